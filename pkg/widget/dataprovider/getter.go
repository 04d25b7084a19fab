package dataprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/mashup/pkg/widget/dataprovider"

// DefaultMaxBodyBytes bounds how much of a response is read into memory.
const DefaultMaxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned for responses larger than the getter's limit.
var ErrBodyTooLarge = errors.New("response body too large")

var (
	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mashup",
		Subsystem: "dataprovider",
		Name:      "fetch_total",
		Help:      "Resource fetches by outcome (ok, status, transport, decode).",
	}, []string{"outcome"})
	metricFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mashup",
		Subsystem: "dataprovider",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of resource fetches.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Response is a completed HTTP exchange. Data is the decoded body: JSON
// bodies are decoded to generic values, anything else is a string.
type Response struct {
	Status  int
	Headers http.Header
	Data    any
}

// StatusError reports a non-2xx response. The response is returned along
// with it so callers can report data, status and headers.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Status, http.StatusText(e.Status))
}

// Getter performs the GET for a selected item.
//
//go:generate mockgen -package=dataprovider -destination=mock_getter_test.go github.com/odvcencio/mashup/pkg/widget/dataprovider Getter
type Getter interface {
	Get(ctx context.Context, location string) (*Response, error)
}

// HTTPGetter is the net/http backed Getter.
type HTTPGetter struct {
	Client       *http.Client
	// MaxBodyBytes caps the response size; 0 means DefaultMaxBodyBytes.
	MaxBodyBytes int64
	tracer       trace.Tracer
}

// NewHTTPGetter creates a getter using client, or a client with timeout
// when client is nil.
func NewHTTPGetter(client *http.Client, timeout time.Duration) *HTTPGetter {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGetter{
		Client: client,
		tracer: otel.Tracer(tracerName),
	}
}

// Get issues one GET request for location.
func (g *HTTPGetter) Get(ctx context.Context, location string) (*Response, error) {
	ctx, span := g.tracer.Start(ctx, "dataprovider.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.url", location),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		metricFetchDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		metricFetches.WithLabelValues("transport").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad request")
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := g.Client.Do(req)
	if err != nil {
		metricFetches.WithLabelValues("transport").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	limit := g.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		metricFetches.WithLabelValues("transport").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("read %s: %w", location, err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
	}
	if int64(len(body)) > limit {
		metricFetches.WithLabelValues("decode").Inc()
		span.SetStatus(codes.Error, "body too large")
		return out, fmt.Errorf("decode %s: %w (limit %d bytes)", location, ErrBodyTooLarge, limit)
	}
	data, decodeErr := decodeBody(resp.Header.Get("Content-Type"), body)
	out.Data = data

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metricFetches.WithLabelValues("status").Inc()
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return out, &StatusError{Status: resp.StatusCode}
	}
	if decodeErr != nil {
		metricFetches.WithLabelValues("decode").Inc()
		span.RecordError(decodeErr)
		span.SetStatus(codes.Error, "decode")
		return out, fmt.Errorf("decode %s: %w", location, decodeErr)
	}

	metricFetches.WithLabelValues("ok").Inc()
	return out, nil
}

// decodeBody decodes JSON bodies (by content type or by their first
// character) and returns everything else as text. On a decode error the
// raw text is returned alongside the error.
func decodeBody(contentType string, body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	looksJSON := trimmed[0] == '{' || trimmed[0] == '['
	if !looksJSON && !strings.Contains(strings.ToLower(contentType), "json") {
		return string(body), nil
	}
	var data any
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return string(body), err
	}
	return data, nil
}

// flattenHeaders turns headers into a JSON friendly map with lower-case
// names, joining repeated values with ", ".
func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}
