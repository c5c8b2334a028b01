// Package gateway exposes the speech client over HTTP.
//
// Routes:
//
//	POST /v1/synthesize  JSON {"text": ..., "voice": ...} in, audio/wav out
//	POST /v1/recognize   audio/wav in, JSON {"text": ...} out
//	GET  /healthz        liveness
//	GET  /readyz         readiness, fails while every upstream host is open
//	GET  /metrics        Prometheus exposition
//
// Every upstream call goes through a [resilience.FallbackGroup] so that a
// failing service host is skipped while its circuit breaker is open.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/xfspeech/internal/events"
	"github.com/MrWong99/xfspeech/internal/health"
	"github.com/MrWong99/xfspeech/internal/observe"
	"github.com/MrWong99/xfspeech/internal/resilience"
	"github.com/MrWong99/xfspeech/pkg/speech/asr"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

// Default limits applied when the corresponding option is not set.
const (
	DefaultMaxBodyBytes   = 16 << 20
	DefaultRequestTimeout = 30 * time.Second
)

// Server serves the HTTP API. It is safe for concurrent use.
type Server struct {
	synths *resilience.FallbackGroup[*tts.Synthesizer]
	recs   *resilience.FallbackGroup[*asr.Recognizer]

	voice atomic.Pointer[tts.Options]

	events          events.Publisher
	publishPartials bool
	metrics         *observe.Metrics
	metricsHandler  http.Handler
	checkers        []health.Checker
	maxBody         int64
	timeout         time.Duration
	log             *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithEvents publishes results on p. Default: [events.NopPublisher].
func WithEvents(p events.Publisher, publishPartials bool) Option {
	return func(s *Server) {
		s.events = p
		s.publishPartials = publishPartials
	}
}

// WithMetrics sets the metrics used by the request middleware. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithCheckers adds readiness checks next to the upstream endpoint checks.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMaxBodyBytes bounds request bodies. Values <= 0 are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithRequestTimeout bounds each API request. Values <= 0 are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithVoice sets the initial default voice. See [Server.SetVoice].
func WithVoice(o tts.Options) Option {
	return func(s *Server) { s.voice.Store(&o) }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a [Server] over the given failover groups.
func New(synths *resilience.FallbackGroup[*tts.Synthesizer], recs *resilience.FallbackGroup[*asr.Recognizer], opts ...Option) *Server {
	s := &Server{
		synths:  synths,
		recs:    recs,
		events:  events.NopPublisher{},
		maxBody: DefaultMaxBodyBytes,
		timeout: DefaultRequestTimeout,
		log:     slog.Default(),
	}
	def := tts.DefaultOptions()
	s.voice.Store(&def)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// SetVoice replaces the default voice for subsequent requests. Fields a
// request leaves zero are taken from it.
func (s *Server) SetVoice(o tts.Options) {
	s.voice.Store(&o)
	s.log.Info("default voice updated", "voice", o.Voice)
}

// breakerChanged records a host's breaker entering a new state.
func (s *Server) breakerChanged(host string, to resilience.State) {
	s.metrics.RecordBreaker(context.Background(), host, to.String())
}

// Voice returns the current default voice.
func (s *Server) Voice() tts.Options {
	return *s.voice.Load()
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics, s.log))

	checkers := append([]health.Checker{
		health.Endpoints("tts", s.synths),
		health.Endpoints("asr", s.recs),
	}, s.checkers...)
	health.New(checkers...).Register(r)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Post("/synthesize", s.handleSynthesize)
		r.Post("/recognize", s.handleRecognize)
	})
	return r
}
