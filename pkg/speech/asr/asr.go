// Package asr transcribes audio over a signed streaming session.
//
// The recognizer opens a session with a control frame carrying the business
// parameters, streams the payload in fixed-size slices, and closes the
// outbound side with a status 2 frame. Every inbound frame contributes its
// words to an append-only transcript, which becomes the result once the
// service sends its final frame.
//
// Two upload framings are supported. [ModeBinary] sends the slices as raw
// binary messages between the opening and closing control frames.
// [ModeBase64] wraps every slice in a JSON control frame, which is the
// framing the public API documents.
package asr

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/frame"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
	"github.com/MrWong99/xfspeech/pkg/speech/transport"
)

// Service defaults.
const (
	DefaultHost      = "iat-api.xfyun.cn"
	DefaultPath      = "/v2/iat"
	DefaultFrameSize = 320
	DefaultVADEOS    = 5000
)

// ErrEmptyPayload is returned when there is no audio to send.
var ErrEmptyPayload = errors.New("asr: payload is empty")

// ErrDynamicCorrection is returned when Business.Extra asks for dynamic
// correction (dwa=wpgs). Corrected results replace earlier ones, which
// append-only assembly cannot express.
var ErrDynamicCorrection = errors.New("asr: dwa=wpgs is unsupported")

// Mode selects how audio slices are framed on the wire.
type Mode int

const (
	// ModeBinary sends each slice as a binary message.
	ModeBinary Mode = iota

	// ModeBase64 sends each slice base64-encoded inside a control frame.
	ModeBase64
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeBinary:
		return "binary"
	case ModeBase64:
		return "base64"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a configuration name. The empty string means [ModeBinary].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "binary":
		return ModeBinary, nil
	case "base64":
		return ModeBase64, nil
	default:
		return 0, fmt.Errorf("asr: unknown framing mode %q", s)
	}
}

// Observer receives the transcript so far after every frame that added
// words, excluding the final one. It runs on the session goroutine and must
// not block.
type Observer func(transcriptSoFar string)

// Business holds the recognition parameters.
type Business struct {
	Language string
	Domain   string
	Accent   string
	VADEOS   int

	// Extra is merged into the business object verbatim. dwa=wpgs is
	// rejected with [ErrDynamicCorrection].
	Extra map[string]any
}

// Validate reports business parameters sessions cannot honour.
func (b Business) Validate() error {
	if dwa, ok := b.Extra["dwa"].(string); ok && dwa == "wpgs" {
		return ErrDynamicCorrection
	}
	return nil
}

// DefaultBusiness returns Mandarin dictation parameters.
func DefaultBusiness() Business {
	return Business{Language: "zh_cn", Domain: "iat", Accent: "mandarin", VADEOS: DefaultVADEOS}
}

// Recognizer creates recognition sessions. It is safe for concurrent use;
// every call runs its own session.
type Recognizer struct {
	cfg       session.Config
	appID     string
	host      string
	path      string
	business  Business
	mode      Mode
	frameSize int
	observer  Observer
}

// Option is a functional option for [NewRecognizer].
type Option func(*Recognizer)

// WithEndpoint overrides the service host and path.
func WithEndpoint(host, path string) Option {
	return func(r *Recognizer) {
		r.host = host
		r.path = path
	}
}

// WithBusiness replaces the recognition parameters.
func WithBusiness(b Business) Option {
	return func(r *Recognizer) { r.business = b }
}

// WithMode selects the upload framing.
func WithMode(m Mode) Option {
	return func(r *Recognizer) { r.mode = m }
}

// WithFrameSize sets the slice size in bytes. Non-positive values keep the
// default.
func WithFrameSize(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.frameSize = n
		}
	}
}

// WithObserver registers a callback for partial transcripts.
func WithObserver(o Observer) Option {
	return func(r *Recognizer) { r.observer = o }
}

// NewRecognizer creates a [Recognizer] for the given application.
func NewRecognizer(appID string, cfg session.Config, opts ...Option) *Recognizer {
	r := &Recognizer{
		cfg:       cfg,
		appID:     appID,
		host:      DefaultHost,
		path:      DefaultPath,
		business:  DefaultBusiness(),
		mode:      ModeBinary,
		frameSize: DefaultFrameSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Endpoint returns the host and path sessions are signed for.
func (r *Recognizer) Endpoint() (host, path string) { return r.host, r.path }

// UploadFrames returns how many messages a payload of n bytes is uploaded
// as, control frames included.
func (r *Recognizer) UploadFrames(n int) int {
	slices := frame.CountSlices(n, r.frameSize)
	if r.mode == ModeBase64 {
		// The first slice rides on the opening frame.
		return slices + 1
	}
	return slices + 2
}

// Recognize wraps 16 kHz mono samples in a WAV container and transcribes
// them. Audio in any other format must be converted first, for example with
// [audio.ToSpeechFormat].
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", ErrEmptyPayload
	}
	if sampleRate != audio.SpeechFormat.SampleRate {
		return "", fmt.Errorf("asr: sample rate %d unsupported, want %d", sampleRate, audio.SpeechFormat.SampleRate)
	}
	return r.RecognizePayload(ctx, frame.BuildWAVContainer(samples, sampleRate))
}

// RecognizePayload transcribes an already encoded payload as is.
func (r *Recognizer) RecognizePayload(ctx context.Context, payload []byte) (string, error) {
	return r.RecognizePayloadWithObserver(ctx, payload, r.observer)
}

// RecognizePayloadWithObserver is [Recognizer.RecognizePayload] with a
// per-call observer in place of the configured one.
func (r *Recognizer) RecognizePayloadWithObserver(ctx context.Context, payload []byte, o Observer) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if err := r.business.Validate(); err != nil {
		return "", err
	}
	d := &driver{
		appID:     r.appID,
		host:      r.host,
		path:      r.path,
		business:  r.business,
		mode:      r.mode,
		frameSize: r.frameSize,
		payload:   payload,
		observer:  o,
	}
	return session.New[string](r.cfg, d).Run(ctx)
}

// driver implements [session.Driver] for recognition.
type driver struct {
	appID     string
	host      string
	path      string
	business  Business
	mode      Mode
	frameSize int
	payload   []byte
	observer  Observer

	transcript Builder
}

func (d *driver) Kind() speech.Kind             { return speech.KindRecognition }
func (d *driver) Endpoint() (host, path string) { return d.host, d.path }
func (d *driver) Reset()                        { d.transcript.Reset() }

func (d *driver) Accept(in frame.Inbound) error {
	if len(in.Tokens) == 0 {
		return nil
	}
	d.transcript.Append(in.Tokens...)
	if d.observer != nil && !in.Final() {
		d.observer(d.transcript.String())
	}
	return nil
}

func (d *driver) Finalize() (string, error) {
	return d.transcript.String(), nil
}

func (d *driver) common() *frame.Common { return &frame.Common{AppID: d.appID} }

func (d *driver) iatBusiness() frame.IATBusiness {
	return frame.IATBusiness{
		Language: d.business.Language,
		Domain:   d.business.Domain,
		Accent:   d.business.Accent,
		VADEOS:   d.business.VADEOS,
		Extra:    d.business.Extra,
	}
}

func control(b []byte, err error) (transport.Message, error) {
	return transport.Message{Type: transport.Text, Data: b}, err
}

func (d *driver) Outbound() iter.Seq2[transport.Message, error] {
	if d.mode == ModeBase64 {
		return d.base64Plan()
	}
	return d.binaryPlan()
}

// binaryPlan: opening control frame, raw slices, closing control frame.
func (d *driver) binaryPlan() iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		if !yield(control(frame.EncodeControlFrame(d.common(), d.iatBusiness(), frame.Data{
			Status:   frame.PhaseFirst,
			Format:   frame.FormatL16,
			Encoding: frame.EncodingRaw,
		}))) {
			return
		}
		for chunk := range frame.SliceAudio(d.payload, d.frameSize) {
			if !yield(transport.Message{Type: transport.Binary, Data: chunk}, nil) {
				return
			}
		}
		yield(control(frame.EncodeControlFrame(nil, nil, frame.Data{
			Status:   frame.PhaseLast,
			Format:   frame.FormatL16,
			Encoding: frame.EncodingRaw,
		})))
	}
}

// base64Plan: the first slice rides on the opening frame, the rest follow
// as status 1 frames, then an empty closing frame.
func (d *driver) base64Plan() iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		first := true
		for chunk := range frame.SliceAudio(d.payload, d.frameSize) {
			data := frame.Data{
				Status:   frame.PhaseContinue,
				Format:   frame.FormatL16,
				Encoding: frame.EncodingRaw,
				Audio:    frame.EncodeAudio(chunk),
			}
			var msg transport.Message
			var err error
			if first {
				data.Status = frame.PhaseFirst
				msg, err = control(frame.EncodeControlFrame(d.common(), d.iatBusiness(), data))
				first = false
			} else {
				msg, err = control(frame.EncodeControlFrame(nil, nil, data))
			}
			if !yield(msg, err) {
				return
			}
		}
		yield(control(frame.EncodeControlFrame(nil, nil, frame.Data{
			Status:   frame.PhaseLast,
			Format:   frame.FormatL16,
			Encoding: frame.EncodingRaw,
		})))
	}
}
