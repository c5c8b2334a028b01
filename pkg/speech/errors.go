package speech

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every typed error below matches exactly one of them with
// [errors.Is], so callers can branch on the failure class without type
// assertions.
var (
	ErrSigning    = errors.New("signing failed")
	ErrTransport  = errors.New("transport failed")
	ErrProtocol   = errors.New("service rejected request")
	ErrIncomplete = errors.New("session ended before final frame")
	ErrPlayback   = errors.New("playback failed")
)

// SigningError reports credentials or endpoint parts that cannot be signed.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: signing: %s: %v", e.Reason, e.Err)
	}
	return "speech: signing: " + e.Reason
}

func (e *SigningError) Unwrap() error        { return e.Err }
func (e *SigningError) Is(target error) bool { return target == ErrSigning }

// TransportError wraps a dial, read, or write failure of the underlying
// connection.
type TransportError struct {
	Op  string // "dial", "read", or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("speech: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError is a non-zero status code returned by the service.
type ProtocolError struct {
	Code    int
	Message string
	// SID is the service-side session identifier, useful when reporting
	// issues upstream. It may be empty.
	SID string
}

func (e *ProtocolError) Error() string {
	if e.SID != "" {
		return fmt.Sprintf("speech: service error %d: %s (sid %s)", e.Code, e.Message, e.SID)
	}
	return fmt.Sprintf("speech: service error %d: %s", e.Code, e.Message)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// IncompleteSessionError means the session ended before a frame with status
// 2 arrived: the peer closed early, the idle timer fired, the caller
// cancelled, or an inbound frame could not be decoded.
type IncompleteSessionError struct {
	Reason string
	Err    error
}

func (e *IncompleteSessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech: incomplete session: %s: %v", e.Reason, e.Err)
	}
	return "speech: incomplete session: " + e.Reason
}

func (e *IncompleteSessionError) Unwrap() error        { return e.Err }
func (e *IncompleteSessionError) Is(target error) bool { return target == ErrIncomplete }

// PlaybackError wraps a failure of the audio output.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string        { return fmt.Sprintf("speech: playback: %v", e.Err) }
func (e *PlaybackError) Unwrap() error        { return e.Err }
func (e *PlaybackError) Is(target error) bool { return target == ErrPlayback }

// Classify returns a short label for err's failure class, used as a metric
// and span attribute. It returns "ok" for nil.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSigning):
		return "signing"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrIncomplete):
		return "incomplete"
	case errors.Is(err, ErrPlayback):
		return "playback"
	default:
		return "other"
	}
}
