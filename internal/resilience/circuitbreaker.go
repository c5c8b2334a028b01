// Package resilience keeps a gateway usable when a speech service host
// misbehaves.
//
// Every service host gets a [CircuitBreaker]. After MaxFailures upstream
// failures in a row the host is taken out of rotation for ResetTimeout, then
// readmitted on probation: HalfOpenMax probe sessions must all succeed before
// it is trusted again. [FallbackGroup] orders the hosts of one kind and
// routes each session to the first host whose breaker admits it.
//
// Only errors that say something about the host count. [UpstreamFailure] is
// the classifier used for speech sessions.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// ErrCircuitOpen is returned without running the session when the host's
// breaker does not admit it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the admission mode of a [CircuitBreaker].
type State int

const (
	// StateClosed admits every session.
	StateClosed State = iota
	// StateOpen rejects sessions until the reset timeout has passed.
	StateOpen
	// StateHalfOpen admits a bounded number of probe sessions.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateChangeFunc observes breaker transitions. It runs after the breaker's
// lock is released and must not block.
type StateChangeFunc func(name string, from, to State)

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name identifies the guarded host in logs and callbacks.
	Name string

	// MaxFailures in a row open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker rejects. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted, and required to
	// succeed, before the breaker closes again. Default: 3.
	HalfOpenMax int

	// IsFailure selects the errors that count. Others pass through and
	// count as success. Default: any non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called on every transition.
	OnStateChange StateChangeFunc

	// Logger receives transition logs. Default: [slog.Default].
	Logger *slog.Logger

	// Now is the clock. Default: [time.Now].
	Now func() time.Time
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// UpstreamFailure reports whether err reflects on the health of the remote
// speech service: transport errors, sessions the service left incomplete,
// and service-side rejections. Cancellation by the caller does not count.
func UpstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, speech.ErrTransport) ||
		errors.Is(err, speech.ErrIncomplete) ||
		errors.Is(err, speech.ErrProtocol)
}

// Counts is a snapshot of a breaker's bookkeeping.
type Counts struct {
	State State
	// Failures in a row while closed.
	ConsecutiveFailures int
	// Sessions turned away with [ErrCircuitOpen].
	Rejected uint64
	// Times the breaker opened.
	Trips uint64
}

// CircuitBreaker guards one service host. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted in the current half-open window
	probesOK int
	rejected uint64
	trips    uint64
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults()}
}

// Name returns the guarded host.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits it and books the outcome. fn's error
// is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err != nil && cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if cb.state == StateOpen && cb.cooledDown() {
		change = cb.moveTo(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		cb.rejected++
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.rejected++
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	var change func()
	defer func() {
		cb.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch {
	case probe && cb.state != StateHalfOpen:
		// The window this probe belonged to was already decided.
	case probe && failed:
		change = cb.trip()
	case probe:
		cb.probesOK++
		if cb.probesOK >= cb.cfg.HalfOpenMax {
			change = cb.moveTo(StateClosed)
		}
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			change = cb.trip()
		}
	default:
		cb.failures = 0
	}
}

// trip opens the breaker. Caller holds cb.mu.
func (cb *CircuitBreaker) trip() func() {
	cb.openedAt = cb.cfg.Now()
	cb.trips++
	return cb.moveTo(StateOpen)
}

// moveTo switches state and returns the notification to run once cb.mu is
// released. Caller holds cb.mu.
func (cb *CircuitBreaker) moveTo(to State) func() {
	from := cb.state
	cb.state = to
	cb.probes, cb.probesOK = 0, 0
	if to == StateClosed {
		cb.failures = 0
	}
	failures := cb.failures

	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		cb.cfg.Logger.Log(context.Background(), level, "circuit breaker state changed",
			"host", cb.cfg.Name, "from", from, "to", to, "consecutive_failures", failures)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, from, to)
		}
	}
}

// cooledDown reports whether an open breaker may probe. Caller holds cb.mu.
func (cb *CircuitBreaker) cooledDown() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// admitted session.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Counts returns a snapshot of the breaker's bookkeeping.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Counts{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		Rejected:            cb.rejected,
		Trips:               cb.trips,
	}
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	change()
}
