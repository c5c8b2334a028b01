package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Player starts playback of a complete buffer on some output.
type Player interface {
	// Start begins playback and returns as soon as the output accepted the
	// audio. An error means nothing was played.
	Start(ctx context.Context, buf Buffer) (Playback, error)
}

// Playback is a started playback.
type Playback interface {
	// Wait blocks until playback ends naturally, fails, or is stopped.
	Wait() error

	// Stop aborts playback. It is safe to call more than once and after
	// playback ended.
	Stop() error
}

// ErrEmptyBuffer is returned by players for buffers without samples.
var ErrEmptyBuffer = errors.New("audio: empty buffer")

// ── Nop ──────────────────────────────────────────────────────────────────────

// NopPlayer discards audio. When Realtime is set, playback lasts as long as
// the buffer would take to play, which is useful for headless runs that still
// want realistic start/end timing.
type NopPlayer struct {
	Realtime bool
}

// Start implements [Player].
func (p NopPlayer) Start(ctx context.Context, buf Buffer) (Playback, error) {
	if len(buf.Samples) == 0 {
		return nil, ErrEmptyBuffer
	}
	var d time.Duration
	if p.Realtime {
		d = buf.Duration()
	}
	return newTimedPlayback(ctx, d), nil
}

// timedPlayback ends after a fixed delay, on Stop, or when ctx is done.
type timedPlayback struct {
	done     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	err      error
}

func newTimedPlayback(ctx context.Context, d time.Duration) *timedPlayback {
	pb := &timedPlayback{done: make(chan struct{}), stop: make(chan struct{})}
	go func() {
		defer close(pb.done)
		if d <= 0 {
			return
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-pb.stop:
		case <-ctx.Done():
			pb.err = ctx.Err()
		}
	}()
	return pb
}

func (pb *timedPlayback) Wait() error {
	<-pb.done
	return pb.err
}

func (pb *timedPlayback) Stop() error {
	pb.stopOnce.Do(func() { close(pb.stop) })
	return nil
}

// ── File ─────────────────────────────────────────────────────────────────────

// FilePlayer "plays" audio by writing it to a WAV file. Path names the file;
// when Dir is set instead, a timestamped file is created there.
type FilePlayer struct {
	Path string
	Dir  string
}

// Start implements [Player]. The file is fully written before Start returns.
func (p FilePlayer) Start(ctx context.Context, buf Buffer) (Playback, error) {
	if len(buf.Samples) == 0 {
		return nil, ErrEmptyBuffer
	}
	path := p.Path
	if path == "" {
		if p.Dir == "" {
			return nil, errors.New("audio: file player needs a path or directory")
		}
		path = filepath.Join(p.Dir, fmt.Sprintf("speech-%d.wav", time.Now().UnixNano()))
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := WriteWAVFile(f, buf); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("audio: close %q: %w", path, err)
	}
	return newTimedPlayback(ctx, 0), nil
}
