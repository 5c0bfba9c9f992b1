package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"bibliopanel/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "bibliopanel"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupExportsSpans(t *testing.T) {
	var hits int32
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "test", Endpoint: srv.URL})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(1))
	assert.Equal(t, "/v1/traces", path.Load())
}

func TestExporterOptions(t *testing.T) {
	opts, err := exporterOptions(config.TelemetryConfig{Endpoint: "collector:4318"})
	require.NoError(t, err)
	assert.Len(t, opts, 1)

	opts, err = exporterOptions(config.TelemetryConfig{Endpoint: "http://collector:4318/custom/traces"})
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	_, err = exporterOptions(config.TelemetryConfig{Endpoint: "http://[::1"})
	assert.Error(t, err)
}
