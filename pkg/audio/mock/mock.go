// Package mock provides an in-memory implementation of [audio.Player] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every started buffer so
// that tests can assert on call counts and content, and it exposes exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	p := &mock.Player{Hold: make(chan struct{})}
//	pb, _ := p.Start(ctx, buf)
//	close(p.Hold) // let playback finish
//	_ = pb.Wait()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/xfspeech/pkg/audio"
)

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// StartErr is returned by [Player.Start] when non-nil.
	StartErr error

	// WaitErr is returned by [Playback.Wait] of every playback.
	WaitErr error

	// Hold, when non-nil, keeps playbacks running until it is closed.
	Hold chan struct{}

	// Started records every buffer passed to Start, including failed starts.
	Started []audio.Buffer

	// StopCount counts Stop calls across all playbacks.
	StopCount int
}

// Start implements [audio.Player].
func (p *Player) Start(ctx context.Context, buf audio.Buffer) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Started = append(p.Started, buf)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	return &Playback{player: p, ctx: ctx, hold: p.Hold, waitErr: p.WaitErr, stop: make(chan struct{})}, nil
}

// StartCount returns how many times Start was called.
func (p *Player) StartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Started)
}

// Playback is the [audio.Playback] returned by [Player.Start].
type Playback struct {
	player  *Player
	ctx     context.Context
	hold    chan struct{}
	waitErr error

	once sync.Once
	stop chan struct{}
}

// Wait implements [audio.Playback].
func (pb *Playback) Wait() error {
	if pb.hold != nil {
		select {
		case <-pb.hold:
		case <-pb.stop:
			return nil
		case <-pb.ctx.Done():
			return pb.ctx.Err()
		}
	}
	return pb.waitErr
}

// Stop implements [audio.Playback].
func (pb *Playback) Stop() error {
	pb.once.Do(func() {
		close(pb.stop)
		pb.player.mu.Lock()
		pb.player.StopCount++
		pb.player.mu.Unlock()
	})
	return nil
}
