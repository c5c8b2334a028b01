package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// restoreGlobals puts the OTel globals back after InitProvider replaced them.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestInitProvider_ServesSessionMetrics(t *testing.T) {
	restoreGlobals(t)

	tel, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "xfspeech-test",
		ServiceVersion: "1.2.3",
		Registry:       prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if otel.GetMeterProvider() != tel.MeterProvider {
		t.Error("meter provider was not installed globally")
	}

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.SessionStarted(ctx, speech.KindSynthesis)
	m.SessionFinished(ctx, speech.KindSynthesis, "ok", 800*time.Millisecond)

	body := scrape(t, tel.Handler)
	for _, want := range []string{"xfspeech_session_results", "xfspeech_session_duration", `kind="tts"`, `service_name="xfspeech-test"`} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestInitProvider_DefaultRegistryHasRuntimeCollectors(t *testing.T) {
	restoreGlobals(t)

	tel, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if body := scrape(t, tel.Handler); !strings.Contains(body, "go_goroutines") {
		t.Error("default registry should expose Go runtime metrics")
	}
}

func TestInitProvider_ExportsSpansAndPropagates(t *testing.T) {
	restoreGlobals(t)

	exp := tracetest.NewInMemoryExporter()
	tel, err := InitProvider(context.Background(), ProviderConfig{
		TraceExporter: exp,
		Registry:      prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	ctx, span := StartUpstreamSpan(context.Background(), speech.KindRecognition, "iat-api.xfyun.cn")
	EndSpan(span, nil)

	carrier := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(carrier))
	if !strings.Contains(carrier.Get("traceparent"), CorrelationID(ctx)) {
		t.Errorf("global propagator did not inject traceparent: %v", carrier)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(exp.GetSpans()) != 1 {
		t.Errorf("exported %d spans, want 1 after shutdown flush", len(exp.GetSpans()))
	}
}

func TestInitProvider_RejectsBadSampleRatio(t *testing.T) {
	t.Parallel()
	if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: 1.5}); err == nil {
		t.Error("expected error for sample ratio 1.5")
	}
}
