// Package events publishes speech results to a NATS bus so that other
// services can react to finished transcripts and syntheses without polling
// the gateway.
//
// Subjects are built from a configurable prefix:
//
//	<prefix>.transcript.partial
//	<prefix>.transcript.final
//	<prefix>.synthesis.done
//
// Payloads are JSON. The W3C trace context of the publishing request travels
// in the NATS message headers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/xfspeech/internal/observe"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectTranscriptPartial = "transcript.partial"
	SubjectTranscriptFinal   = "transcript.final"
	SubjectSynthesisDone     = "synthesis.done"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "speech"

// Transcript is the payload of a transcript event.
type Transcript struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Text          string    `json:"text"`
	Final         bool      `json:"final"`
	Timestamp     time.Time `json:"timestamp"`
}

// Synthesis is the payload of a synthesis.done event.
type Synthesis struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Voice         string    `json:"voice"`
	TextBytes     int       `json:"text_bytes"`
	Samples       int       `json:"samples"`
	DurationMS    int64     `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher emits speech result events.
type Publisher interface {
	PublishTranscript(ctx context.Context, t Transcript) error
	PublishSynthesis(ctx context.Context, s Synthesis) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) PublishTranscript(context.Context, Transcript) error { return nil }
func (NopPublisher) PublishSynthesis(context.Context, Synthesis) error   { return nil }
func (NopPublisher) Close() error                                        { return nil }

// ── NATS ─────────────────────────────────────────────────────────────────────

// Option configures a [NATSPublisher].
type Option func(*NATSPublisher)

// WithPrefix sets the subject prefix. Empty values are ignored.
func WithPrefix(prefix string) Option {
	return func(p *NATSPublisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithMetrics records every publish attempt on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *NATSPublisher) { p.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *NATSPublisher) { p.log = l }
}

// NATSPublisher publishes events on a NATS connection. It is safe for
// concurrent use.
type NATSPublisher struct {
	conn    *nats.Conn
	owned   bool
	prefix  string
	metrics *observe.Metrics
	log     *slog.Logger
	prop    propagation.TextMapPropagator
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials the NATS servers in url (comma separated) and returns a
// publisher that owns the connection.
func Connect(url string, opts ...Option) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("xfspeech"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}
	p := NewNATSPublisher(conn, opts...)
	p.owned = true
	p.log.Info("connected to NATS", "servers", conn.ConnectedUrlRedacted())
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close flushes but does not
// close a connection it did not open.
func NewNATSPublisher(conn *nats.Conn, opts ...Option) *NATSPublisher {
	p := &NATSPublisher{
		conn:   conn,
		prefix: DefaultPrefix,
		log:    slog.Default(),
		prop:   propagation.TraceContext{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Subject returns the full subject for suffix.
func (p *NATSPublisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishTranscript publishes t on the partial or final transcript subject.
func (p *NATSPublisher) PublishTranscript(ctx context.Context, t Transcript) error {
	suffix := SubjectTranscriptPartial
	if t.Final {
		suffix = SubjectTranscriptFinal
	}
	fillEnvelope(ctx, &t.ID, &t.CorrelationID, &t.Timestamp)
	return p.publish(ctx, p.Subject(suffix), t)
}

// PublishSynthesis publishes s on the synthesis.done subject.
func (p *NATSPublisher) PublishSynthesis(ctx context.Context, s Synthesis) error {
	fillEnvelope(ctx, &s.ID, &s.CorrelationID, &s.Timestamp)
	return p.publish(ctx, p.Subject(SubjectSynthesisDone), s)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v any) (err error) {
	defer func() {
		if p.metrics == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordEvent(ctx, subject, status)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	p.prop.Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := p.conn.PublishMsg(msg); err != nil {
		p.log.Warn("failed to publish event", "subject", subject, "err", err)
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Check reports whether the connection is usable. It fits a readiness
// checker.
func (p *NATSPublisher) Check(context.Context) error {
	if p.conn.IsConnected() {
		return nil
	}
	return fmt.Errorf("nats: %s", p.conn.Status())
}

// Close flushes pending messages and, when the publisher opened the
// connection, closes it.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	err := p.conn.FlushTimeout(2 * time.Second)
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	if p.owned {
		p.conn.Close()
	}
	return err
}

func fillEnvelope(ctx context.Context, id, cid *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if *cid == "" {
		*cid = observe.CorrelationID(ctx)
	}
	if ts.IsZero() {
		*ts = time.Now().UTC()
	}
}
