package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"bibliopanel/internal/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

const defaultCloudinaryURL = "https://api.cloudinary.com/v1_1"

// CloudinaryClient performs unsigned uploads with an upload preset. Calls go
// through a circuit breaker and transient failures are retried with
// exponential backoff.
type CloudinaryClient struct {
	baseURL    string
	cloudName  string
	preset     string
	httpClient *http.Client
	maxRetries uint
	breaker    *gobreaker.CircuitBreaker
}

type Option func(*CloudinaryClient)

func WithBaseURL(u string) Option {
	return func(c *CloudinaryClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *CloudinaryClient) { c.httpClient = hc }
}

func WithMaxRetries(n uint) Option {
	return func(c *CloudinaryClient) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func NewCloudinaryClient(cloudName, preset string, opts ...Option) *CloudinaryClient {
	c := &CloudinaryClient{
		baseURL:    defaultCloudinaryURL,
		cloudName:  cloudName,
		preset:     preset,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cloudinary",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is a non-2xx answer from the media host.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media host returned %d: %s", e.Code, e.Message)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Upload sends the file. The body is buffered once so retries can resend it.
func (c *CloudinaryClient) Upload(ctx context.Context, filename string, r io.Reader, tags []string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyFile
	}

	logger.ExternalServiceCall("cloudinary", "upload", "filename", filename, "bytes", len(data))
	url, err := backoff.Retry(ctx, func() (string, error) {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.send(ctx, filename, data, tags)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return "", backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		case err != nil:
			var se *StatusError
			if errors.As(err, &se) && !retryable(se.Code) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return res.(string), nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxRetries))
	logger.ExternalServiceResult("cloudinary", "upload", err, "url", url)
	return url, err
}

func (c *CloudinaryClient) send(ctx context.Context, filename string, data []byte, tags []string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	fields := map[string]string{"upload_preset": c.preset}
	if len(tags) > 0 {
		fields["tags"] = strings.Join(tags, ",")
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s/auto/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}
	if out.SecureURL == "" {
		return "", errors.New("upload response has no secure_url")
	}
	return out.SecureURL, nil
}
