// Package client wires signer, transport and session configuration into
// ready-to-use synthesizers and recognizers.
//
// A [Client] is explicitly constructed and owned by the caller; there is no
// package-level instance. It is safe for concurrent use.
//
//	c, err := client.New(creds, client.WithLogger(logger))
//	if err != nil { … }
//	buf, err := c.Synthesize(ctx, "你好")
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/asr"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
	"github.com/MrWong99/xfspeech/pkg/speech/sign"
	"github.com/MrWong99/xfspeech/pkg/speech/transport"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

// Client builds speech sessions for one credential set.
type Client struct {
	creds   speech.Credentials
	cfg     session.Config
	ttsOpts []tts.Option
	asrOpts []asr.Option

	synth *tts.Synthesizer
	rec   *asr.Recognizer
}

type options struct {
	scheme     string
	clock      func() time.Time
	dialer     transport.Dialer
	httpClient *http.Client
	readLimit  int64
	cfg        session.Config
	ttsOpts    []tts.Option
	asrOpts    []asr.Option
}

// Option is a functional option for [New].
type Option func(*options)

// WithDialer replaces the WebSocket dialer, typically with a mock.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithReadLimit bounds the size of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithScheme overrides the URL scheme of signed endpoints. Local test servers
// use "ws".
func WithScheme(scheme string) Option {
	return func(o *options) { o.scheme = scheme }
}

// WithClock sets the signing clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithIdleTimeout sets the per-session inactivity limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.IdleTimeout = d }
}

// WithRetry sets the connection retry policy.
func WithRetry(p session.RetryPolicy) Option {
	return func(o *options) { o.cfg.Retry = p }
}

// WithFrameInterval paces outbound frames.
func WithFrameInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.FrameInterval = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.cfg.Logger = l }
}

// WithRecorder sets the session telemetry sink.
func WithRecorder(r session.Recorder) Option {
	return func(o *options) { o.cfg.Recorder = r }
}

// WithTransitionHook observes every session status change.
func WithTransitionHook(fn func(from, to speech.Status)) Option {
	return func(o *options) { o.cfg.OnTransition = fn }
}

// WithSynthesizerOptions applies opts to every synthesizer the client
// creates.
func WithSynthesizerOptions(opts ...tts.Option) Option {
	return func(o *options) { o.ttsOpts = append(o.ttsOpts, opts...) }
}

// WithRecognizerOptions applies opts to every recognizer the client creates.
func WithRecognizerOptions(opts ...asr.Option) Option {
	return func(o *options) { o.asrOpts = append(o.asrOpts, opts...) }
}

// New validates creds and creates a [Client].
func New(creds speech.Credentials, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	cfg.Signer = &sign.Signer{Credentials: creds, Scheme: o.scheme, Clock: o.clock}
	cfg.Dialer = o.dialer
	if cfg.Dialer == nil {
		cfg.Dialer = transport.WebSocketDialer{HTTPClient: o.httpClient, ReadLimit: o.readLimit}
	}

	c := &Client{
		creds:   creds,
		cfg:     cfg,
		ttsOpts: o.ttsOpts,
		asrOpts: o.asrOpts,
	}
	c.synth = c.Synthesizer()
	c.rec = c.Recognizer()
	return c, nil
}

// AppID returns the application the client signs for.
func (c *Client) AppID() string { return c.creds.AppID }

// SessionConfig returns a copy of the shared session configuration.
func (c *Client) SessionConfig() session.Config { return c.cfg }

// Synthesizer creates a synthesizer with the client's options followed by
// opts.
func (c *Client) Synthesizer(opts ...tts.Option) *tts.Synthesizer {
	all := append(append([]tts.Option(nil), c.ttsOpts...), opts...)
	return tts.NewSynthesizer(c.creds.AppID, c.cfg, all...)
}

// Recognizer creates a recognizer with the client's options followed by
// opts.
func (c *Client) Recognizer(opts ...asr.Option) *asr.Recognizer {
	all := append(append([]asr.Option(nil), c.asrOpts...), opts...)
	return asr.NewRecognizer(c.creds.AppID, c.cfg, all...)
}

// Synthesize converts text to audio with the default voice.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Buffer, error) {
	return c.synth.Synthesize(ctx, text, tts.Options{})
}

// Speak synthesizes text with the default voice and plays it. See
// [tts.Synthesizer.Speak] for the hook semantics.
func (c *Client) Speak(ctx context.Context, text string, h tts.Hooks) (audio.Buffer, error) {
	return c.synth.Speak(ctx, text, tts.Options{}, h)
}

// Recognize transcribes 16 kHz mono samples.
func (c *Client) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return c.rec.Recognize(ctx, samples, sampleRate)
}
