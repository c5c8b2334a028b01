package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// Default retry parameters.
const (
	DefaultMaxAttempts = 1
	DefaultBackoff     = 500 * time.Millisecond
	DefaultMaxBackoff  = 5 * time.Second
)

// RetryPolicy bounds how often a session re-dials after a failed connection
// attempt.
//
// Only failures that happened before the service accepted any frame are
// retried: transport errors and early closures. Service rejections (non-zero
// codes), signing failures, caller cancellation, and anything after the first
// accepted inbound frame end the session immediately. Each attempt is signed
// afresh because the signature embeds the request date.
type RetryPolicy struct {
	// MaxAttempts is the total number of connection attempts, including the
	// first. Defaults to 1 (no retry) if zero.
	MaxAttempts int

	// Backoff is the delay before the second attempt. Doubles each attempt up
	// to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the delay. Defaults to 5s if zero.
	MaxBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	return p
}

// Delay returns the wait before attempt n (n >= 2).
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.Backoff
	for i := 2; i < n; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return min(d, p.MaxBackoff)
}

// retryable reports whether err, raised before any inbound frame was
// accepted, may be retried.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, speech.ErrTransport) || errors.Is(err, speech.ErrIncomplete)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
