package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/xfspeech/internal/events"
	"github.com/MrWong99/xfspeech/internal/observe"
)

// startServer runs an in-process NATS server on a random port.
func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready within 5s")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func subscribe(t *testing.T, url, subject string) chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	t.Cleanup(nc.Close)

	ch := make(chan *nats.Msg, 8)
	if _, err := nc.ChanSubscribe(subject, ch); err != nil {
		t.Fatalf("subscribe %s: %v", subject, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush subscription: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message within 2s")
		return nil
	}
}

func TestNATSPublisher_TranscriptSubjects(t *testing.T) {
	t.Parallel()
	ns := startServer(t)
	ch := subscribe(t, ns.ClientURL(), "dictation.transcript.>")

	p, err := events.Connect(ns.ClientURL(), events.WithPrefix("dictation"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if err := p.PublishTranscript(ctx, events.Transcript{Text: "测"}); err != nil {
		t.Fatalf("publish partial: %v", err)
	}
	if err := p.PublishTranscript(ctx, events.Transcript{Text: "测试", Final: true}); err != nil {
		t.Fatalf("publish final: %v", err)
	}

	partial := receive(t, ch)
	if partial.Subject != "dictation.transcript.partial" {
		t.Errorf("subject = %q, want dictation.transcript.partial", partial.Subject)
	}
	final := receive(t, ch)
	if final.Subject != "dictation.transcript.final" {
		t.Errorf("subject = %q, want dictation.transcript.final", final.Subject)
	}

	var got events.Transcript
	if err := json.Unmarshal(final.Data, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Text != "测试" || !got.Final {
		t.Errorf("payload = %+v", got)
	}
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Errorf("envelope not filled: %+v", got)
	}
	if ct := final.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type header = %q", ct)
	}
}

func TestNATSPublisher_SynthesisCarriesTraceContext(t *testing.T) {
	ns := startServer(t)
	ch := subscribe(t, ns.ClientURL(), "speech.synthesis.done")

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	p := events.NewNATSPublisher(nc, events.WithMetrics(m))

	ctx, span := observe.StartSpan(context.Background(), "synthesize")
	err = p.PublishSynthesis(ctx, events.Synthesis{Voice: "xiaoyan", Samples: 16000, DurationMS: 1000})
	span.End()
	if err != nil {
		t.Fatalf("PublishSynthesis: %v", err)
	}

	msg := receive(t, ch)
	var got events.Synthesis
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	cid := observe.CorrelationID(ctx)
	if got.CorrelationID != cid {
		t.Errorf("correlation id = %q, want %q", got.CorrelationID, cid)
	}
	if tp := msg.Header.Get("traceparent"); tp == "" {
		t.Error("traceparent header missing")
	}

	// Close on a borrowed connection must leave it open.
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !nc.IsConnected() {
		t.Error("borrowed connection was closed")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "xfspeech.events.published" {
				found = true
			}
		}
	}
	if !found {
		t.Error("events.published metric not recorded")
	}
}

func TestNATSPublisher_CheckAndClose(t *testing.T) {
	t.Parallel()
	ns := startServer(t)

	p, err := events.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("Check on live connection: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Check(context.Background()); err == nil {
		t.Error("Check after Close should fail")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	t.Parallel()
	ns := startServer(t)

	p, err := events.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.PublishTranscript(ctx, events.Transcript{Text: "x", Final: true}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()
	if _, err := events.Connect("nats://127.0.0.1:1"); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	var p events.Publisher = events.NopPublisher{}
	if err := p.PublishTranscript(context.Background(), events.Transcript{}); err != nil {
		t.Error(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}
