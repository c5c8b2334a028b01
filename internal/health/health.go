// Package health serves the gateway's liveness and readiness probes.
//
// GET /healthz answers 200 while the process runs. GET /readyz runs every
// registered [Checker] in parallel and answers 503 when any of them fails:
//
//	{"status":"fail","checks":{"tts":{"status":"fail","error":"...","latency_ms":0}}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/xfspeech/internal/resilience"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Probe outcomes.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Checker is one named readiness dependency. Check returns nil when the
// dependency can serve and must return once ctx is done.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the body of both probes.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == StatusOK }

// Handler evaluates a fixed set of checkers.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
}

// Evaluate runs every checker concurrently, each under its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			results[i] = CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status, results[i].Error = StatusFail, err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(results))}
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status != StatusOK {
			rep.Status = StatusFail
		}
	}
	return rep
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register mounts both probes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// EndpointGroup is the part of a [resilience.FallbackGroup] readiness needs.
type EndpointGroup interface {
	Available() bool
	Status() []resilience.EntryStatus
}

// Endpoints fails while no host of g admits sessions. The error names each
// host with its breaker state.
func Endpoints(name string, g EndpointGroup) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if g.Available() {
				return nil
			}
			hosts := make([]string, 0, len(g.Status()))
			for _, st := range g.Status() {
				hosts = append(hosts, fmt.Sprintf("%s=%s", st.Name, st.State))
			}
			return errors.New("no endpoint available: " + strings.Join(hosts, ", "))
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
