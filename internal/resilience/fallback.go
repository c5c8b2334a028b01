package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error when no host of a [FallbackGroup] could
// serve a session.
var ErrAllFailed = errors.New("all endpoints failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied for every host; Name is set to the host.
	CircuitBreaker CircuitBreakerConfig

	// ShouldFailover selects the errors worth trying on the next host. Any
	// other error ends the attempt and is returned as it is. Default: every
	// error.
	ShouldFailover func(error) bool
}

// EntryStatus describes one host of a group for readiness reporting.
type EntryStatus struct {
	Name  string
	State State
	Counts
}

type endpoint[T any] struct {
	host    string
	client  T
	breaker *CircuitBreaker
}

// FallbackGroup holds one client per host of the same service, primary
// first. Hosts are added before the group is shared; afterwards all methods
// are safe for concurrent use.
type FallbackGroup[T any] struct {
	cfg       FallbackConfig
	log       *slog.Logger
	endpoints []endpoint[T]
}

// NewFallbackGroup creates a group whose primary host is name.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.ShouldFailover == nil {
		cfg.ShouldFailover = func(error) bool { return true }
	}
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(name, primary)
	return fg
}

// AddFallback appends a host. Hosts are tried in the order they were added.
func (fg *FallbackGroup[T]) AddFallback(name string, client T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.endpoints = append(fg.endpoints, endpoint[T]{
		host:    name,
		client:  client,
		breaker: NewCircuitBreaker(bc),
	})
}

// Status returns every host in order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(fg.endpoints))
	for _, ep := range fg.endpoints {
		c := ep.breaker.Counts()
		out = append(out, EntryStatus{Name: ep.host, State: ep.breaker.State(), Counts: c})
	}
	return out
}

// Available reports whether any host would currently be tried.
func (fg *FallbackGroup[T]) Available() bool {
	for _, ep := range fg.endpoints {
		if ep.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(c T) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

// ExecuteWithResult runs fn against the first host whose breaker admits it
// and moves on while fn fails with an error ShouldFailover accepts. Hosts
// with an open breaker are skipped. When no host succeeds the returned error
// wraps [ErrAllFailed] and the last failure.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.endpoints {
		ep := &fg.endpoints[i]

		var out R
		err := ep.breaker.Execute(func() (err error) {
			out, err = fn(ep.client)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("endpoint skipped, circuit open", "endpoint", ep.host)
		case !fg.cfg.ShouldFailover(err):
			return zero, err
		default:
			fg.log.Warn("endpoint failed, trying next", "endpoint", ep.host, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
