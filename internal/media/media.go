// Package media stores cover images and PDFs on the media host and returns
// durable URLs for them.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"bibliopanel/internal/config"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile = errors.New("empty upload")
	// ErrUnavailable means the media host is failing and uploads are being rejected early.
	ErrUnavailable = errors.New("media host unavailable")
)

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader, tags []string) (string, error)
}

// New builds the uploader selected by cfg.Provider.
func New(cfg config.MediaConfig) (Uploader, error) {
	switch cfg.Provider {
	case "cloudinary":
		return NewCloudinaryClient(cfg.CloudName, cfg.UploadPreset,
			WithBaseURL(cfg.BaseURL),
			WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			WithMaxRetries(cfg.MaxRetries),
		), nil
	case "local", "":
		return NewLocalUploader(cfg.UploadDir, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown media provider: %q", cfg.Provider)
	}
}

// LocalUploader writes files under a directory for development deployments.
type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory files are written to.
func (l *LocalUploader) Dir() string { return l.dir }

func (l *LocalUploader) Upload(ctx context.Context, filename string, r io.Reader, _ []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filepath.Base(filename)))
	f, err := os.Create(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyFile
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return l.baseURL + "/" + path.Clean(name), nil
}
