package orgconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bibliopanel/internal/docstore/memory"
	"bibliopanel/internal/theme"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBinding(t *testing.T) *ThemeBinding {
	t.Helper()
	store := memory.New()
	store.Seed(Collection, "ENSPY", map[string]any{"Theme": map[string]any{"Primary": "#D2691E"}})
	return BindTheme(New(store, "ENSPY"), theme.NewContext())
}

func TestThemeBindingSync(t *testing.T) {
	b := newBinding(t)
	got := b.Sync(context.Background())
	assert.Equal(t, "#D2691E", got.Primary)
	assert.Equal(t, theme.DefaultSecondary, got.Secondary)
	assert.Equal(t, "#D2691E", b.Theme().Current().Primary)
}

func TestThemeBindingRefreshPicksUpChanges(t *testing.T) {
	b := newBinding(t)
	ctx := context.Background()
	b.Sync(ctx)

	s := b.Settings().Settings(ctx)
	s.Theme.Primary = "#10B981"
	require.NoError(t, b.Settings().Save(ctx, s))
	require.NoError(t, b.Refresh(ctx))
	assert.Equal(t, "#10B981", b.Theme().Current().Primary)
}

func TestSettingsHandler(t *testing.T) {
	b := newBinding(t)
	b.Sync(context.Background())
	h := NewHandler(b)
	r := chi.NewRouter()
	h.PublicRoutes(r)
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/theme.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "--color-primary: #D2691E;")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings",
		strings.NewReader(`{"Name":"ENSPY","MaximumSimultaneousLoans":0}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings",
		strings.NewReader(`{"Name":"ENSPY","MaximumSimultaneousLoans":4,"Theme":{"Primary":"#000000","Secondary":"#FFFFFF"}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"MaximumSimultaneousLoans":4`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/theme", nil))
	assert.Contains(t, rec.Body.String(), `"primary":"#000000"`)
}
