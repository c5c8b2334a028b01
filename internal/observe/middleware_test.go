package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

type middlewareFixture struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

// newMiddlewareFixture routes chi requests through [Middleware] with in-memory
// metrics, spans and logs. It replaces the global tracer provider, so tests
// using it must not run in parallel.
func newMiddlewareFixture(t *testing.T, routes func(chi.Router)) *middlewareFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := useTracer(t)
	logs := new(bytes.Buffer)
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(Middleware(m, log))
	routes(r)
	return &middlewareFixture{handler: r, reader: reader, spans: exp, logs: logs}
}

func (f *middlewareFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *middlewareFixture) durationPoint(t *testing.T) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "xfspeech.http.request.duration")
	if met == nil {
		t.Fatal("xfspeech.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	return hist.DataPoints[0]
}

func jobRoutes(r chi.Router) {
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/v1/fail", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestMiddleware_CorrelationID(t *testing.T) {
	var seen string
	f := newMiddlewareFixture(t, func(r chi.Router) {
		r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
			seen = CorrelationID(r.Context())
		})
	})

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/echo", nil))
	if len(seen) != 32 {
		t.Fatalf("handler saw correlation ID %q, want a 32-char trace ID", seen)
	}
	if got := rec.Header().Get(CorrelationHeader); got != seen {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
	}
	if !strings.Contains(rec.Header().Get("traceparent"), seen) {
		t.Errorf("traceparent = %q, want it to carry %s", rec.Header().Get("traceparent"), seen)
	}
}

func TestMiddleware_CorrelationIDWithoutTracing(t *testing.T) {
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(noop.NewTracerProvider())
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	var seen string
	r := chi.NewRouter()
	r.Use(Middleware(DefaultMetrics(), slog.New(slog.DiscardHandler)))
	r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo", nil))
	got := rec.Header().Get(CorrelationHeader)
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("%s = %q, want a generated UUID", CorrelationHeader, got)
	}
	if seen != got {
		t.Errorf("handler saw %q, response carries %q", seen, got)
	}

	// A caller-supplied ID is kept when there is no trace to follow.
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(CorrelationHeader, "job-42")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get(CorrelationHeader); got != "job-42" || seen != "job-42" {
		t.Errorf("%s = %q, handler saw %q; want job-42", CorrelationHeader, got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	f := newMiddlewareFixture(t, jobRoutes)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/7", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := f.serve(req)

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
	spans := f.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Parent.SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s, want the incoming span", got)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	f := newMiddlewareFixture(t, jobRoutes)
	f.serve(httptest.NewRequest(http.MethodGet, "/v1/jobs/42", nil))

	spans := f.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "GET /v1/jobs/{id}" {
		t.Errorf("span name = %q, want %q", s.Name, "GET /v1/jobs/{id}")
	}
	if got, _ := attrValue(s.Attributes, "http.route"); got != "/v1/jobs/{id}" {
		t.Errorf("http.route = %q", got)
	}
	if got, _ := attrValue(s.Attributes, "http.response.status_code"); got != "204" {
		t.Errorf("http.response.status_code = %q, want 204", got)
	}
	if s.Status.Code == codes.Error {
		t.Error("2xx span marked as error")
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	f := newMiddlewareFixture(t, jobRoutes)
	f.serve(httptest.NewRequest(http.MethodGet, "/v1/jobs/42", nil))

	dp := f.durationPoint(t)
	if dp.Count != 1 {
		t.Errorf("count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/v1/jobs/{id}", "status_class": "2xx"}
	for _, kv := range dp.Attributes.ToSlice() {
		if w, ok := want[string(kv.Key)]; ok {
			if kv.Value.AsString() != w {
				t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), w)
			}
			delete(want, string(kv.Key))
		}
	}
	if len(want) > 0 {
		t.Errorf("missing attributes %v", want)
	}
}

func TestMiddleware_ServerErrors(t *testing.T) {
	f := newMiddlewareFixture(t, jobRoutes)
	rec := f.serve(httptest.NewRequest(http.MethodPost, "/v1/fail", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	spans := f.spans.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Errorf("5xx span should have error status, got %+v", spans)
	}
	p := f.durationPoint(t)
	if got, _ := p.Attributes.Value("status_class"); got.AsString() != "5xx" {
		t.Errorf("status_class = %q, want 5xx", got.AsString())
	}
	logs := f.logs.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "status=502") {
		t.Errorf("5xx should log at warn: %s", logs)
	}
}

func TestMiddleware_HealthChecksLogAtDebug(t *testing.T) {
	f := newMiddlewareFixture(t, jobRoutes)
	f.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	logs := f.logs.String()
	if !strings.Contains(logs, "level=DEBUG") || !strings.Contains(logs, "route=/healthz") {
		t.Errorf("health check request should log at debug: %s", logs)
	}
	if !strings.Contains(logs, "bytes=2") {
		t.Errorf("log should carry the response size: %s", logs)
	}
}

func TestMiddleware_UnroutedPathFallsBack(t *testing.T) {
	f := newMiddlewareFixture(t, jobRoutes)
	rec := f.serve(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	attrs := f.durationPoint(t).Attributes
	if v, _ := attrs.Value("status_class"); v.AsString() != "4xx" {
		t.Errorf("status_class = %q, want 4xx", v.AsString())
	}
	if v, _ := attrs.Value("path"); v.AsString() != "/nowhere" {
		t.Errorf("path = %q, want the raw path for unmatched routes", v.AsString())
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for status, want := range map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 413: "4xx", 503: "5xx"} {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
