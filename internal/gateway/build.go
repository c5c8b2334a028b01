package gateway

import (
	"errors"

	"github.com/MrWong99/xfspeech/internal/config"
	"github.com/MrWong99/xfspeech/internal/resilience"
	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/asr"
	"github.com/MrWong99/xfspeech/pkg/speech/client"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

// shouldFailover moves on to the next host only for failures another host
// could avoid. A service rejection reflects the request itself.
func shouldFailover(err error) bool {
	return errors.Is(err, speech.ErrTransport) || errors.Is(err, speech.ErrIncomplete)
}

// FallbackConfig maps the circuit_breaker section onto per-host breakers.
// onChange may be nil.
func FallbackConfig(cfg *config.Config, onChange resilience.StateChangeFunc) resilience.FallbackConfig {
	cb := cfg.CircuitBreaker
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cb.MaxFailures,
			ResetTimeout:  cb.ResetTimeout.Std(),
			HalfOpenMax:   cb.HalfOpenMax,
			IsFailure:     resilience.UpstreamFailure,
			OnStateChange: onChange,
		},
		ShouldFailover: shouldFailover,
	}
}

// Synthesizers returns a failover group with one synthesizer per configured
// TTS host, primary first.
func Synthesizers(c *client.Client, cfg *config.Config, fc resilience.FallbackConfig) *resilience.FallbackGroup[*tts.Synthesizer] {
	mk := func(host string) *tts.Synthesizer {
		return c.Synthesizer(tts.WithEndpoint(host, cfg.TTS.Path), tts.WithDefaults(cfg.TTSOptions()))
	}
	g := resilience.NewFallbackGroup(mk(cfg.TTS.Host), cfg.TTS.Host, fc)
	for _, h := range cfg.TTS.FallbackHosts {
		g.AddFallback(h, mk(h))
	}
	return g
}

// Recognizers returns a failover group with one recognizer per configured
// ASR host, primary first.
func Recognizers(c *client.Client, cfg *config.Config, fc resilience.FallbackConfig) *resilience.FallbackGroup[*asr.Recognizer] {
	mk := func(host string) *asr.Recognizer {
		return c.Recognizer(
			asr.WithEndpoint(host, cfg.ASR.Path),
			asr.WithBusiness(cfg.ASRBusiness()),
			asr.WithMode(cfg.ASRMode()),
			asr.WithFrameSize(cfg.ASR.FrameSize),
		)
	}
	g := resilience.NewFallbackGroup(mk(cfg.ASR.Host), cfg.ASR.Host, fc)
	for _, h := range cfg.ASR.FallbackHosts {
		g.AddFallback(h, mk(h))
	}
	return g
}

// NewFromConfig builds a [Server] for cfg on top of c.
func NewFromConfig(c *client.Client, cfg *config.Config, opts ...Option) *Server {
	base := []Option{
		WithVoice(cfg.TTSOptions()),
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		WithRequestTimeout(cfg.Server.RequestTimeout.Std()),
	}
	var s *Server
	fc := FallbackConfig(cfg, func(host string, _, to resilience.State) {
		s.breakerChanged(host, to)
	})
	s = New(Synthesizers(c, cfg, fc), Recognizers(c, cfg, fc), append(base, opts...)...)
	return s
}
