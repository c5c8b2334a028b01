// Package mock provides scripted implementations of [transport.Dialer] and
// [transport.Conn] for use in unit tests.
//
// A [Conn] replays a fixed list of inbound messages. Delivery is gated on the
// number of messages the session has sent (by default one), which mirrors a
// server that only answers once it has seen the opening frame. After the
// script is exhausted Receive returns ReceiveErr, or blocks until Close when
// ReceiveErr is nil.
//
// All mocks are safe for concurrent use and record every call.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech/transport"
)

// Conn is a mock implementation of [transport.Conn].
type Conn struct {
	mu      sync.Mutex
	changed chan struct{}
	next    int
	closed  bool

	// Inbound is the scripted list of messages returned by Receive.
	Inbound []transport.Message

	// DeliverAfter is the number of sent messages required before inbound
	// delivery starts. Zero means 1; a negative value delivers immediately.
	DeliverAfter int

	// Delay is slept before each inbound message.
	Delay time.Duration

	// ReceiveErr is returned once the script is exhausted. Nil makes Receive
	// block until the connection is closed.
	ReceiveErr error

	// SendErr is returned by Send once FailSendAt messages were accepted.
	SendErr    error
	FailSendAt int

	// Sent records every accepted message in order.
	Sent []transport.Message

	// CloseCount counts Close calls.
	CloseCount int
}

// TextFrames builds a script of text messages.
func TextFrames(frames ...string) []transport.Message {
	out := make([]transport.Message, len(frames))
	for i, f := range frames {
		out[i] = transport.Message{Type: transport.Text, Data: []byte(f)}
	}
	return out
}

func (c *Conn) init() {
	if c.changed == nil {
		c.changed = make(chan struct{})
	}
}

// broadcast wakes all waiters. Must be called with c.mu held.
func (c *Conn) broadcast() {
	c.init()
	close(c.changed)
	c.changed = make(chan struct{})
}

// Send implements [transport.Conn].
func (c *Conn) Send(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.SendErr != nil && len(c.Sent) >= c.FailSendAt {
		return c.SendErr
	}
	data := make([]byte, len(msg.Data))
	copy(data, msg.Data)
	c.Sent = append(c.Sent, transport.Message{Type: msg.Type, Data: data})
	c.broadcast()
	return nil
}

// Receive implements [transport.Conn].
func (c *Conn) Receive(ctx context.Context) (transport.Message, error) {
	gate := c.DeliverAfter
	if gate == 0 {
		gate = 1
	}
	for {
		c.mu.Lock()
		c.init()
		switch {
		case c.closed:
			c.mu.Unlock()
			return transport.Message{}, transport.ErrClosed
		case len(c.Sent) >= gate && c.next < len(c.Inbound):
			msg := c.Inbound[c.next]
			c.next++
			c.mu.Unlock()
			if c.Delay > 0 {
				select {
				case <-time.After(c.Delay):
				case <-ctx.Done():
					return transport.Message{}, ctx.Err()
				}
			}
			return msg, nil
		case len(c.Sent) >= gate && c.ReceiveErr != nil:
			err := c.ReceiveErr
			c.mu.Unlock()
			return transport.Message{}, err
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		}
	}
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if !c.closed {
		c.closed = true
		c.broadcast()
	}
	return nil
}

// Closes returns how many times Close was called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCount
}

// SentMessages returns a copy of the messages sent so far.
func (c *Conn) SentMessages() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// ErrNoConn is returned by [Dialer.Dial] when the script has no connection
// left.
var ErrNoConn = errors.New("mock: no scripted connection left")

// Dialer is a mock implementation of [transport.Dialer]. The i-th Dial call
// returns Errs[i] when set, otherwise Conns[i].
type Dialer struct {
	mu sync.Mutex

	Conns []*Conn
	Errs  []error

	// URLs records every dialled URL.
	URLs []string
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := len(d.URLs)
	d.URLs = append(d.URLs, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < len(d.Errs) && d.Errs[i] != nil {
		return nil, d.Errs[i]
	}
	if i >= len(d.Conns) {
		return nil, ErrNoConn
	}
	return d.Conns[i], nil
}

// DialCount returns how many times Dial was called.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.URLs)
}
