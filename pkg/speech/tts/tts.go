// Package tts synthesizes speech over a signed streaming session and plays
// the result.
//
// A synthesis session sends a single control frame carrying the business
// parameters and the whole base64 text, then collects the PCM chunks of every
// inbound frame until the final one. The assembled audio is 16 kHz mono.
package tts

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"unicode/utf8"

	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/frame"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
	"github.com/MrWong99/xfspeech/pkg/speech/transport"
)

// Service defaults.
const (
	DefaultHost  = "tts-api.xfyun.cn"
	DefaultPath  = "/v2/tts"
	DefaultVoice = "x4_lingbosong"

	// MaxTextBytes is the largest base64-encoded text the service accepts in
	// one request.
	MaxTextBytes = 8000
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("tts: text is empty")

// Options are per-request voice parameters. Zero fields take the
// synthesizer's defaults.
type Options struct {
	Voice  string
	Speed  int // 0-100
	Volume int // 0-100
	Pitch  int // 0-100

	// Extra is merged into the business object verbatim.
	Extra map[string]any
}

// DefaultOptions returns the voice used when nothing else is configured.
func DefaultOptions() Options {
	return Options{Voice: DefaultVoice, Speed: 50, Volume: 50, Pitch: 50}
}

// Merge fills the zero fields of o from def.
func (o Options) Merge(def Options) Options {
	if o.Voice == "" {
		o.Voice = def.Voice
	}
	if o.Speed == 0 {
		o.Speed = def.Speed
	}
	if o.Volume == 0 {
		o.Volume = def.Volume
	}
	if o.Pitch == 0 {
		o.Pitch = def.Pitch
	}
	if o.Extra == nil {
		o.Extra = def.Extra
	}
	return o
}

// Validate checks the parameter ranges.
func (o Options) Validate() error {
	var errs []error
	for name, v := range map[string]int{"speed": o.Speed, "volume": o.Volume, "pitch": o.Pitch} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("tts: %s %d out of range [0,100]", name, v))
		}
	}
	return errors.Join(errs...)
}

// Hooks observe playback. OnPlaybackStart fires once audio output began.
// OnPlaybackEnd fires when playback completed naturally; supplying it makes
// [Synthesizer.Speak] wait for the end.
type Hooks struct {
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// Synthesizer creates synthesis sessions. It is safe for concurrent use;
// every call runs its own session.
type Synthesizer struct {
	cfg      session.Config
	appID    string
	host     string
	path     string
	defaults Options
	player   audio.Player
	onChunk  func(samples int)
}

// Option is a functional option for [NewSynthesizer].
type Option func(*Synthesizer)

// WithEndpoint overrides the service host and path.
func WithEndpoint(host, path string) Option {
	return func(s *Synthesizer) {
		s.host = host
		s.path = path
	}
}

// WithDefaults sets the options used for zero fields of per-call options.
func WithDefaults(o Options) Option {
	return func(s *Synthesizer) { s.defaults = o.Merge(DefaultOptions()) }
}

// WithPlayer sets the audio output used by [Synthesizer.Speak].
func WithPlayer(p audio.Player) Option {
	return func(s *Synthesizer) { s.player = p }
}

// WithChunkObserver registers a callback invoked after every audio chunk
// with the number of samples received so far.
func WithChunkObserver(fn func(samples int)) Option {
	return func(s *Synthesizer) { s.onChunk = fn }
}

// NewSynthesizer creates a [Synthesizer] for the given application.
func NewSynthesizer(appID string, cfg session.Config, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		cfg:      cfg,
		appID:    appID,
		host:     DefaultHost,
		path:     DefaultPath,
		defaults: DefaultOptions(),
		player:   audio.NopPlayer{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Endpoint returns the host and path sessions are signed for.
func (s *Synthesizer) Endpoint() (host, path string) { return s.host, s.path }

// Synthesize runs one session and returns the assembled audio without
// playing it.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, o Options) (audio.Buffer, error) {
	d, err := s.newDriver(text, o)
	if err != nil {
		return audio.Buffer{}, err
	}
	return session.New[audio.Buffer](s.cfg, d).Run(ctx)
}

// Speak synthesizes text and plays it. Without an end hook Speak returns as
// soon as playback started and playback continues in the background;
// otherwise it returns after playback finished and the end hook ran.
func (s *Synthesizer) Speak(ctx context.Context, text string, o Options, h Hooks) (audio.Buffer, error) {
	buf, err := s.Synthesize(ctx, text, o)
	if err != nil {
		return audio.Buffer{}, err
	}

	playCtx := ctx
	if h.OnPlaybackEnd == nil {
		playCtx = context.WithoutCancel(ctx)
	}
	pb, err := s.player.Start(playCtx, buf)
	if err != nil {
		return audio.Buffer{}, &speech.PlaybackError{Err: err}
	}
	if h.OnPlaybackStart != nil {
		h.OnPlaybackStart()
	}

	if h.OnPlaybackEnd == nil {
		go func() {
			if err := pb.Wait(); err != nil {
				s.logger().Warn("background playback failed", "err", err)
			}
		}()
		return buf, nil
	}

	if err := pb.Wait(); err != nil {
		return audio.Buffer{}, &speech.PlaybackError{Err: err}
	}
	h.OnPlaybackEnd()
	return buf, nil
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.cfg.Logger != nil {
		return s.cfg.Logger
	}
	return slog.Default()
}

func (s *Synthesizer) newDriver(text string, o Options) (*driver, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if !utf8.ValidString(text) {
		return nil, errors.New("tts: text is not valid UTF-8")
	}
	o = o.Merge(s.defaults)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	encoded := frame.EncodeText(text)
	if len(encoded) > MaxTextBytes {
		return nil, fmt.Errorf("tts: encoded text is %d bytes, limit is %d", len(encoded), MaxTextBytes)
	}
	return &driver{
		appID:   s.appID,
		host:    s.host,
		path:    s.path,
		text:    encoded,
		opts:    o,
		onChunk: s.onChunk,
	}, nil
}

// driver implements [session.Driver] for synthesis.
type driver struct {
	appID   string
	host    string
	path    string
	text    string
	opts    Options
	onChunk func(int)

	asm Assembler
}

func (d *driver) Kind() speech.Kind             { return speech.KindSynthesis }
func (d *driver) Endpoint() (host, path string) { return d.host, d.path }
func (d *driver) Reset()                        { d.asm.Reset() }

// Outbound sends the whole request as one frame. The service expects
// status 2 on it: the first frame is also the last.
func (d *driver) Outbound() iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		b, err := frame.EncodeControlFrame(
			&frame.Common{AppID: d.appID},
			frame.TTSBusiness{
				AUE:    "raw",
				AUF:    frame.FormatL16,
				VCN:    d.opts.Voice,
				Speed:  d.opts.Speed,
				Volume: d.opts.Volume,
				Pitch:  d.opts.Pitch,
				TTE:    "UTF8",
				Extra:  d.opts.Extra,
			},
			frame.Data{Status: frame.PhaseLast, Text: d.text},
		)
		yield(transport.Message{Type: transport.Text, Data: b}, err)
	}
}

func (d *driver) Accept(in frame.Inbound) error {
	if len(in.Audio) == 0 {
		return nil
	}
	d.asm.Append(in.Audio)
	if d.onChunk != nil {
		d.onChunk(d.asm.Len())
	}
	return nil
}

func (d *driver) Finalize() (audio.Buffer, error) {
	if d.asm.Len() == 0 {
		return audio.Buffer{}, &speech.IncompleteSessionError{Reason: "final frame arrived without audio"}
	}
	return d.asm.Buffer(), nil
}
