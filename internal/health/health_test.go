package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/xfspeech/internal/resilience"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// get serves path from h through a chi router and decodes the report.
func get(t *testing.T, h *Handler, ctx context.Context, path string) (int, Report) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "tts", Check: failWith("dial refused")})

	code, rep := get(t, h, context.Background(), "/healthz")
	if code != http.StatusOK || rep.Status != StatusOK {
		t.Errorf("healthz = %d %q, want 200 ok", code, rep.Status)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("healthz should not run checks, got %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string // check name to error, "" for ok
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "tts", Check: pass},
				{Name: "events", Check: pass},
			},
			wantCode: http.StatusOK,
			want:     map[string]string{"tts": "", "events": ""},
		},
		{
			name: "upstream down",
			checkers: []Checker{
				{Name: "tts", Check: failWith("no endpoint available: tts-api.xfyun.cn=open")},
				{Name: "events", Check: pass},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"tts": "no endpoint available: tts-api.xfyun.cn=open", "events": ""},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "asr", Check: failWith("no endpoint available: iat-api.xfyun.cn=open")},
				{Name: "events", Check: failWith("nats: connection closed")},
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"asr": "no endpoint available: iat-api.xfyun.cn=open", "events": "nats: connection closed"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, rep := get(t, New(tc.checkers...), context.Background(), "/readyz")
			if code != tc.wantCode {
				t.Errorf("status code = %d, want %d", code, tc.wantCode)
			}
			if rep.OK() != (tc.wantCode == http.StatusOK) {
				t.Errorf("report status = %q", rep.Status)
			}
			if len(rep.Checks) != len(tc.want) {
				t.Fatalf("checks = %v, want %d entries", rep.Checks, len(tc.want))
			}
			for name, wantErr := range tc.want {
				got := rep.Checks[name]
				wantStatus := StatusOK
				if wantErr != "" {
					wantStatus = StatusFail
				}
				if got.Status != wantStatus || got.Error != wantErr {
					t.Errorf("%s = %+v, want status %q error %q", name, got, wantStatus, wantErr)
				}
			}
		})
	}
}

func TestEvaluate_CheckTimeout(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "events", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.timeout = 20 * time.Millisecond

	rep := h.Evaluate(context.Background())
	if rep.OK() {
		t.Fatal("hanging check should fail")
	}
	if got := rep.Checks["events"].Error; got != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q, want deadline exceeded", got)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "tts", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code, _ := get(t, h, ctx, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestEvaluate_ChecksOverlap(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "tts", Check: slow},
		Checker{Name: "asr", Check: slow},
		Checker{Name: "events", Check: slow},
	)

	start := time.Now()
	rep := h.Evaluate(context.Background())
	if !rep.OK() {
		t.Fatalf("report = %+v", rep)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("readiness took %s, checks should overlap", elapsed)
	}
	if rep.Checks["tts"].LatencyMS < 200 {
		t.Errorf("latency_ms = %d, want at least 200", rep.Checks["tts"].LatencyMS)
	}
}

func TestEndpoints_FailsWhenAllBreakersOpen(t *testing.T) {
	t.Parallel()
	fg := resilience.NewFallbackGroup("primary", "tts-api.xfyun.cn", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("tts-backup.example.test", "backup")
	c := Endpoints("tts", fg)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("fresh group should be ready, got %v", err)
	}

	_ = fg.Execute(func(string) error { return errors.New("dial refused") })

	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected error with every breaker open")
	}
	want := "no endpoint available: tts-api.xfyun.cn=open, tts-backup.example.test=open"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}
