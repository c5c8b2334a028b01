// Package transport abstracts the bidirectional message channel a speech
// session runs over.
//
// The production implementation is [WebSocketDialer], built on
// github.com/coder/websocket. Tests substitute the scripted connection in the
// mock sub-package.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
)

// MessageType distinguishes text (JSON) from binary (raw audio) messages.
type MessageType int

const (
	Text MessageType = iota + 1
	Binary
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one transport-level message.
type Message struct {
	Type MessageType
	Data []byte
}

// ErrClosed is returned by [Conn.Receive] after the connection was closed
// normally by either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn is an established connection. Send must not be called concurrently
// with itself; Receive must not be called concurrently with itself. Send and
// Receive may run concurrently with each other. Close may be called from any
// goroutine and is idempotent.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// HandshakeError is returned when the server answers the upgrade request with
// a non-101 HTTP status, which is how the speech service reports signature and
// clock-skew problems.
type HandshakeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("transport: handshake rejected with HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transport: handshake rejected with HTTP %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// DefaultReadLimit bounds a single inbound message.
const DefaultReadLimit = 4 << 20

// WebSocketDialer dials WebSocket connections.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request. Nil means
	// [http.DefaultClient].
	HTTPClient *http.Client

	// ReadLimit bounds a single inbound message. Zero means
	// [DefaultReadLimit].
	ReadLimit int64
}

// Dial implements [Dialer].
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Body: readBody(resp), Err: err}
		}
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{conn: c}, nil
}

func readBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(b))
}

type wsConn struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	typ := websocket.MessageText
	if msg.Type == Binary {
		typ = websocket.MessageBinary
	}
	return c.conn.Write(ctx, typ, msg.Data)
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		if c.closed.Load() {
			return Message{}, ErrClosed
		}
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	mt := Text
	if typ == websocket.MessageBinary {
		mt = Binary
	}
	return Message{Type: mt, Data: data}, nil
}

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
