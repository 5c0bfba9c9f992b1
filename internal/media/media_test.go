package media

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bibliopanel/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cloudinaryStub counts requests and hands the 1-based call number to handler.
func cloudinaryStub(t *testing.T, handler func(call int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(atomic.AddInt32(&calls, 1), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestCloudinaryUpload(t *testing.T) {
	srv, calls := cloudinaryStub(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/auto/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "panel", r.FormValue("upload_preset"))
		assert.Equal(t, "cover,books", r.FormValue("tags"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "cover.png", hdr.Filename)
		assert.Equal(t, "png-bytes", string(body))
		_ = json.NewEncoder(w).Encode(map[string]string{"secure_url": "https://cdn.example/cover.png"})
	})

	c := NewCloudinaryClient("demo", "panel", WithBaseURL(srv.URL))
	url, err := c.Upload(context.Background(), "cover.png", strings.NewReader("png-bytes"), []string{"cover", "books"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/cover.png", url)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestCloudinaryRetriesServerErrors(t *testing.T) {
	srv, calls := cloudinaryStub(t, func(call int32, w http.ResponseWriter, r *http.Request) {
		if call < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"secure_url": "https://cdn.example/x"})
	})

	c := NewCloudinaryClient("demo", "panel", WithBaseURL(srv.URL), WithMaxRetries(3))
	url, err := c.Upload(context.Background(), "x.pdf", strings.NewReader("pdf"), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/x", url)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestCloudinaryDoesNotRetryClientErrors(t *testing.T) {
	srv, calls := cloudinaryStub(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	})

	c := NewCloudinaryClient("demo", "missing", WithBaseURL(srv.URL), WithMaxRetries(3))
	_, err := c.Upload(context.Background(), "x.png", strings.NewReader("img"), nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "Upload preset not found", se.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestCloudinaryBreakerOpens(t *testing.T) {
	srv, calls := cloudinaryStub(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewCloudinaryClient("demo", "panel", WithBaseURL(srv.URL), WithMaxRetries(1))
	for i := 0; i < 5; i++ {
		_, err := c.Upload(context.Background(), "x.png", strings.NewReader("img"), nil)
		require.Error(t, err)
	}
	_, err := c.Upload(context.Background(), "x.png", strings.NewReader("img"), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 5, atomic.LoadInt32(calls))
}

func TestEmptyUploadRejected(t *testing.T) {
	c := NewCloudinaryClient("demo", "panel", WithBaseURL("http://127.0.0.1:0"))
	_, err := c.Upload(context.Background(), "x.png", strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	l, err := NewLocalUploader(t.TempDir(), "")
	require.NoError(t, err)
	_, err = l.Upload(context.Background(), "x.png", strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrEmptyFile)
	entries, _ := os.ReadDir(l.Dir())
	assert.Empty(t, entries)
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocalUploader(dir, "http://localhost:8080/uploads/")
	require.NoError(t, err)

	url, err := l.Upload(context.Background(), "../../Thesis.PDF", strings.NewReader("%PDF"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/"))
	assert.True(t, strings.HasSuffix(url, ".pdf"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestNewSelectsProvider(t *testing.T) {
	u, err := New(config.MediaConfig{Provider: "cloudinary", CloudName: "demo", UploadPreset: "p", Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &CloudinaryClient{}, u)

	u, err = New(config.MediaConfig{Provider: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)

	_, err = New(config.MediaConfig{Provider: "s3"})
	assert.Error(t, err)
}

func multipartBody(t *testing.T, filename, content, tags string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, _ = part.Write([]byte(content))
	}
	if tags != "" {
		require.NoError(t, mw.WriteField("tags", tags))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandlerUpload(t *testing.T) {
	l, err := NewLocalUploader(t.TempDir(), "/uploads")
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(l).Routes(r)

	body, ct := multipartBody(t, "dept.jpg", "jpeg", "departments")
	req := httptest.NewRequest(http.MethodPost, "/media", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"/uploads/`)

	body, ct = multipartBody(t, "", "", "x")
	req = httptest.NewRequest(http.MethodPost, "/media", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
