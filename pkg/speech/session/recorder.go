package session

import (
	"context"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// Recorder receives session telemetry. Implementations must be safe for
// concurrent use; methods are called from the session's goroutines and must
// not block.
type Recorder interface {
	SessionStarted(ctx context.Context, kind speech.Kind)
	SessionFinished(ctx context.Context, kind speech.Kind, outcome string, d time.Duration)
	FrameSent(ctx context.Context, kind speech.Kind, messageType string)
	FrameReceived(ctx context.Context, kind speech.Kind)
	Retried(ctx context.Context, kind speech.Kind)
}

// NopRecorder discards all telemetry.
type NopRecorder struct{}

func (NopRecorder) SessionStarted(context.Context, speech.Kind)                         {}
func (NopRecorder) SessionFinished(context.Context, speech.Kind, string, time.Duration) {}
func (NopRecorder) FrameSent(context.Context, speech.Kind, string)                      {}
func (NopRecorder) FrameReceived(context.Context, speech.Kind)                          {}
func (NopRecorder) Retried(context.Context, speech.Kind)                                {}
