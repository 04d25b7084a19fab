package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderExportsSpans(t *testing.T) {
	var out bytes.Buffer
	tp, err := NewTracerProvider(context.Background(), TracingOptions{
		ServiceName: "mashup-test",
		SampleRatio: 1,
		Output:      &out,
	})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "table.after_change")
	span.SetAttributes(AttrResource.String("timeSeriesData"))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "table.after_change")
	assert.Contains(t, out.String(), "timeSeriesData")
}

func TestShutdownNilProvider(t *testing.T) {
	var tp *TracerProvider
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/resources/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := HTTPRequests.WithLabelValues("/api/v1/resources/{name}", http.MethodGet, "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/resources/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetricsHandler(t *testing.T) {
	TableEdits.WithLabelValues("published").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mashup_table_edits_total")
}
