// Package speech defines the types shared by every part of the streaming
// speech client: credentials, session status, the error taxonomy, and the
// service kinds.
//
// The client talks to a cloud speech service over a signed WebSocket. Two
// session kinds exist:
//
//   - [KindSynthesis] turns text into 16 kHz mono PCM audio.
//   - [KindRecognition] turns a WAV clip into a transcript.
//
// The sub-packages split the work bottom-up: sign builds the authenticated
// URL, frame encodes and decodes wire frames, transport carries them, session
// drives one exchange to exactly one outcome, and tts / asr layer the audio
// assembler and transcript builder on top.
package speech

import (
	"errors"
	"log/slog"
)

// Kind identifies which speech service a session talks to.
type Kind string

const (
	// KindSynthesis is text-to-speech.
	KindSynthesis Kind = "tts"

	// KindRecognition is speech-to-text.
	KindRecognition Kind = "asr"
)

// Credentials are the application identifier and key pair issued by the
// speech cloud. They are immutable once a client is constructed.
//
// Credentials implement [slog.LogValuer] so that logging them never prints
// the key or secret.
type Credentials struct {
	AppID     string
	APIKey    string
	APISecret string
}

// Validate reports which credential fields are missing.
func (c Credentials) Validate() error {
	var errs []error
	if c.AppID == "" {
		errs = append(errs, errors.New("app id is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if c.APISecret == "" {
		errs = append(errs, errors.New("api secret is required"))
	}
	return errors.Join(errs...)
}

// LogValue implements [slog.LogValuer].
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("app_id", c.AppID),
		slog.String("api_key", redact(c.APIKey)),
		slog.String("api_secret", redact(c.APISecret)),
	)
}

// String keeps fmt verbs from leaking secrets as well.
func (c Credentials) String() string {
	return "Credentials{app_id=" + c.AppID + ", api_key=" + redact(c.APIKey) + ", api_secret=" + redact(c.APISecret) + "}"
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusStreaming
	StatusFinishing
	StatusClosed
	StatusErrored
)

// String returns the lower-case state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusStreaming:
		return "streaming"
	case StatusFinishing:
		return "finishing"
	case StatusClosed:
		return "closed"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusErrored
}
