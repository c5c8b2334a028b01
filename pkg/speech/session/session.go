// Package session drives one speech exchange over a signed WebSocket from
// dial to exactly one outcome.
//
// A [Session] owns a single transport connection per attempt. It runs three
// goroutines: a writer that sends the driver's outbound plan in order, a
// reader that decodes inbound frames, and the event loop that owns all state.
// Drivers ([Driver]) are only ever called from the event loop, so their
// accumulators need no locking.
//
// Lifecycle:
//
//	idle → connecting → streaming → finishing → closed
//	  any state → errored (terminal)
//
// The session enters streaming on the first inbound frame with code 0. A
// frame with status 2 finalizes the driver, closes the transport, and
// resolves the session; frames that arrive after it are ignored.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/frame"
	"github.com/MrWong99/xfspeech/pkg/speech/sign"
	"github.com/MrWong99/xfspeech/pkg/speech/transport"
)

const tracerName = "github.com/MrWong99/xfspeech/pkg/speech/session"

// DefaultIdleTimeout is how long a session may go without inbound frames or
// completed writes before it is abandoned.
const DefaultIdleTimeout = 5 * time.Second

// closeGrace bounds the wait for the reader to observe the transport close
// after the final frame.
const closeGrace = time.Second

// ErrAlreadyRun is returned when [Session.Run] is called more than once.
var ErrAlreadyRun = errors.New("session: already run")

// Driver supplies the kind-specific half of a session: what to send and how
// to fold inbound frames into a result.
type Driver[R any] interface {
	Kind() speech.Kind

	// Endpoint returns the service host and path to sign.
	Endpoint() (host, path string)

	// Outbound returns the ordered send plan for one attempt. It is iterated
	// at most once per attempt.
	Outbound() iter.Seq2[transport.Message, error]

	// Accept folds one successful inbound data frame into the accumulator,
	// including the final one.
	Accept(in frame.Inbound) error

	// Finalize produces the result after the final frame was accepted.
	Finalize() (R, error)

	// Reset discards accumulated state before a retry.
	Reset()
}

// Signer produces signed endpoints. [*sign.Signer] implements it.
type Signer interface {
	Sign(host, path string) (sign.Endpoint, error)
}

// Config holds the dependencies and tuning shared by sessions.
type Config struct {
	Signer Signer
	Dialer transport.Dialer

	// IdleTimeout abandons a session with an [speech.IncompleteSessionError]
	// when neither a frame arrives nor a write completes for this long. It
	// also bounds the dial. Defaults to [DefaultIdleTimeout].
	IdleTimeout time.Duration

	Retry RetryPolicy

	// FrameInterval paces outbound messages. Zero sends as fast as the
	// transport accepts.
	FrameInterval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Recorder defaults to [NopRecorder].
	Recorder Recorder

	// OnTransition, when set, is called on every status change from the
	// session's goroutine. It must not block.
	OnTransition func(from, to speech.Status)
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Recorder == nil {
		c.Recorder = NopRecorder{}
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Session is a single-use speech exchange.
type Session[R any] struct {
	cfg    Config
	driver Driver[R]
	id     string
	log    *slog.Logger
	ran    atomic.Bool

	mu     sync.Mutex
	status speech.Status
}

// New creates an idle session. cfg.Signer and cfg.Dialer are required.
func New[R any](cfg Config, d Driver[R]) *Session[R] {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session[R]{
		cfg:    cfg,
		driver: d,
		id:     id,
		log:    cfg.Logger.With("session_id", id, "kind", string(d.Kind())),
	}
}

// ID returns the session's unique identifier.
func (s *Session[R]) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session[R]) Status() speech.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run executes the session and returns its single outcome. Run may be called
// only once.
func (s *Session[R]) Run(ctx context.Context) (R, error) {
	var zero R
	if !s.ran.CompareAndSwap(false, true) {
		return zero, ErrAlreadyRun
	}
	if s.cfg.Signer == nil || s.cfg.Dialer == nil {
		return zero, errors.New("session: signer and dialer are required")
	}

	kind := s.driver.Kind()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "speech.session",
		trace.WithAttributes(
			attribute.String("speech.kind", string(kind)),
			attribute.String("speech.session_id", s.id),
		),
	)
	defer span.End()

	start := time.Now()
	s.cfg.Recorder.SessionStarted(ctx, kind)
	res, attempts, err := s.run(ctx)
	elapsed := time.Since(start)

	outcome := speech.Classify(err)
	s.cfg.Recorder.SessionFinished(ctx, kind, outcome, elapsed)
	span.SetAttributes(
		attribute.Int("speech.attempts", attempts),
		attribute.String("speech.outcome", outcome),
	)

	if err != nil {
		s.transition(speech.StatusErrored)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("session failed", "attempts", attempts, "outcome", outcome, "duration", elapsed, "err", err)
		return zero, err
	}
	s.log.Debug("session completed", "attempts", attempts, "duration", elapsed)
	return res, nil
}

func (s *Session[R]) run(ctx context.Context) (R, int, error) {
	var zero R
	policy := s.cfg.Retry
	s.transition(speech.StatusConnecting)

	for attempt := 1; ; attempt++ {
		res, progressed, err := s.attempt(ctx, attempt)
		if err == nil {
			return res, attempt, nil
		}
		if progressed || attempt >= policy.MaxAttempts || !retryable(ctx, err) {
			return zero, attempt, err
		}

		delay := policy.Delay(attempt + 1)
		s.log.Info("session attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", delay,
			"err", err,
		)
		s.cfg.Recorder.Retried(ctx, s.driver.Kind())
		if serr := sleep(ctx, delay); serr != nil {
			return zero, attempt, &speech.IncompleteSessionError{Reason: "cancelled during retry backoff", Err: serr}
		}
		s.driver.Reset()
	}
}

type inboundEvent struct {
	in        frame.Inbound
	err       error // transport failure
	decodeErr error // unusable frame
}

// attempt runs one connection. progressed reports whether the service
// accepted anything, which rules out a retry.
func (s *Session[R]) attempt(ctx context.Context, n int) (res R, progressed bool, err error) {
	host, path := s.driver.Endpoint()
	ep, err := s.cfg.Signer.Sign(host, path)
	if err != nil {
		return res, false, err
	}

	log := s.log.With("attempt", n, "host", host)

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.IdleTimeout)
	conn, err := s.cfg.Dialer.Dial(dialCtx, ep.URL)
	cancelDial()
	if err != nil {
		if ctx.Err() != nil {
			return res, false, &speech.IncompleteSessionError{Reason: "cancelled while connecting", Err: ctx.Err()}
		}
		return res, false, &speech.TransportError{Op: "dial", Err: err}
	}
	log.Debug("transport open")

	actx, cancel := context.WithCancel(ctx)
	closeConn := sync.OnceValue(conn.Close)

	inbound := make(chan inboundEvent)
	readerDone := make(chan struct{})
	sent := make(chan struct{}, 1)
	writeDone := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(readerDone)
		s.readLoop(actx, conn, inbound)
	}()
	go func() {
		defer wg.Done()
		writeDone <- s.writeLoop(actx, conn, sent)
	}()

	defer func() {
		cancel()
		if cerr := closeConn(); cerr != nil {
			log.Debug("transport close", "err", cerr)
		}
		wg.Wait()
	}()

	kind := s.driver.Kind()
	idleFor := s.cfg.IdleTimeout
	idle := time.NewTimer(idleFor)
	defer idle.Stop()

	// Set once a write fails. Reading continues and writeErr is returned
	// unless a final frame still arrives.
	var writeErr error

	for {
		select {
		case <-ctx.Done():
			return res, progressed, &speech.IncompleteSessionError{Reason: "cancelled", Err: ctx.Err()}

		case <-idle.C:
			if writeErr != nil {
				return res, progressed, writeErr
			}
			return res, progressed, &speech.IncompleteSessionError{
				Reason: fmt.Sprintf("no activity for %s", s.cfg.IdleTimeout),
				Err:    context.DeadlineExceeded,
			}

		case <-sent:
			idle.Reset(idleFor)

		case werr := <-writeDone:
			writeDone = nil
			var terr *speech.TransportError
			switch {
			case werr == nil:
				log.Debug("outbound plan sent")
			case errors.As(werr, &terr):
				log.Debug("write failed, draining inbound", "err", werr)
				writeErr = werr
				idleFor = min(idleFor, closeGrace)
				idle.Reset(idleFor)
			default:
				return res, progressed, werr
			}

		case ev := <-inbound:
			idle.Reset(idleFor)
			switch {
			case ev.err != nil && ctx.Err() != nil:
				return res, progressed, &speech.IncompleteSessionError{Reason: "cancelled", Err: ctx.Err()}
			case ev.err != nil && writeErr != nil:
				return res, progressed, writeErr
			case errors.Is(ev.err, transport.ErrClosed):
				return res, progressed, &speech.IncompleteSessionError{Reason: "connection closed before final frame"}
			case ev.err != nil:
				return res, progressed, &speech.TransportError{Op: "read", Err: ev.err}
			case ev.decodeErr != nil:
				return res, true, &speech.IncompleteSessionError{Reason: "unreadable frame", Err: ev.decodeErr}
			}

			s.cfg.Recorder.FrameReceived(ctx, kind)
			in := ev.in
			if in.Code != 0 {
				return res, true, &speech.ProtocolError{Code: in.Code, Message: in.Message, SID: in.SID}
			}
			progressed = true
			s.transition(speech.StatusStreaming)
			if !in.HasData {
				continue
			}
			if err := s.driver.Accept(in); err != nil {
				return res, true, err
			}
			if !in.Final() {
				continue
			}

			s.transition(speech.StatusFinishing)
			res, err = s.driver.Finalize()
			if err != nil {
				return res, true, err
			}
			if cerr := closeConn(); cerr != nil {
				log.Debug("transport close", "err", cerr)
			}
			s.awaitClose(inbound, readerDone, log)
			s.transition(speech.StatusClosed)
			return res, true, nil
		}
	}
}

// awaitClose waits for the reader to observe the closed transport, dropping
// any frames that raced the final one.
func (s *Session[R]) awaitClose(inbound <-chan inboundEvent, readerDone <-chan struct{}, log *slog.Logger) {
	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	for {
		select {
		case ev := <-inbound:
			if ev.err == nil && ev.decodeErr == nil {
				log.Debug("ignoring frame after final frame", "status", int(ev.in.Status))
			}
		case <-readerDone:
			return
		case <-grace.C:
			log.Debug("transport close not confirmed in time")
			return
		}
	}
}

func (s *Session[R]) readLoop(ctx context.Context, conn transport.Conn, out chan<- inboundEvent) {
	for {
		msg, err := conn.Receive(ctx)
		var ev inboundEvent
		switch {
		case err != nil:
			ev.err = err
		case msg.Type != transport.Text:
			ev.decodeErr = fmt.Errorf("unexpected %s message", msg.Type)
		default:
			ev.in, ev.decodeErr = frame.DecodeInbound(msg.Data)
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
		if ev.err != nil || ev.decodeErr != nil {
			return
		}
	}
}

func (s *Session[R]) writeLoop(ctx context.Context, conn transport.Conn, sent chan<- struct{}) error {
	kind := s.driver.Kind()
	first := true
	for msg, err := range s.driver.Outbound() {
		if err != nil {
			return fmt.Errorf("session: encode frame: %w", err)
		}
		if !first && s.cfg.FrameInterval > 0 {
			if sleep(ctx, s.cfg.FrameInterval) != nil {
				return nil
			}
		}
		first = false

		if err := conn.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &speech.TransportError{Op: "write", Err: err}
		}
		s.cfg.Recorder.FrameSent(ctx, kind, msg.Type.String())
		select {
		case sent <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Session[R]) transition(to speech.Status) {
	s.mu.Lock()
	from := s.status
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = to
	s.mu.Unlock()

	s.log.Debug("session state", "from", from.String(), "to", to.String())
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}
}
