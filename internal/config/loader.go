package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/xfspeech/pkg/speech/asr"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

// Environment variables that override [CredentialsConfig].
const (
	EnvAppID     = "XFYUN_APP_ID"
	EnvAPIKey    = "XFYUN_API_KEY"
	EnvAPISecret = "XFYUN_API_SECRET"
)

// Defaults not owned by the speech packages.
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxBodyBytes    = 16 << 20
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSubjectPrefix   = "speech"
	DefaultServiceName     = "xfspeech"
)

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. An empty path
// loads the defaults plus environment only.
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(&Config{}, os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReaderEnv(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderEnv(r, nil)
}

// LoadFromReaderEnv is [LoadFromReader] with credential overrides resolved
// through lookup. A nil lookup disables overrides.
func LoadFromReaderEnv(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, lookup)
}

func finish(cfg *Config, lookup LookupFunc) (*Config, error) {
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials with non-empty environment values.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	for env, dst := range map[string]*string{
		EnvAppID:     &cfg.Credentials.AppID,
		EnvAPIKey:    &cfg.Credentials.APIKey,
		EnvAPISecret: &cfg.Credentials.APISecret,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	t := &cfg.TTS
	def := tts.DefaultOptions()
	if t.Host == "" {
		t.Host = tts.DefaultHost
	}
	if t.Path == "" {
		t.Path = tts.DefaultPath
	}
	if t.Voice == "" {
		t.Voice = def.Voice
	}
	if t.Speed == 0 {
		t.Speed = def.Speed
	}
	if t.Volume == 0 {
		t.Volume = def.Volume
	}
	if t.Pitch == 0 {
		t.Pitch = def.Pitch
	}

	a := &cfg.ASR
	biz := asr.DefaultBusiness()
	if a.Host == "" {
		a.Host = asr.DefaultHost
	}
	if a.Path == "" {
		a.Path = asr.DefaultPath
	}
	if a.Language == "" {
		a.Language = biz.Language
	}
	if a.Domain == "" {
		a.Domain = biz.Domain
	}
	if a.Accent == "" {
		a.Accent = biz.Accent
	}
	if a.VADEOS == 0 {
		a.VADEOS = biz.VADEOS
	}
	if a.Mode == "" {
		a.Mode = asr.ModeBinary.String()
	}
	if a.FrameSize <= 0 {
		a.FrameSize = asr.DefaultFrameSize
	}

	ss := &cfg.Session
	if ss.IdleTimeout <= 0 {
		ss.IdleTimeout = Duration(session.DefaultIdleTimeout)
	}
	if ss.Retry.MaxAttempts <= 0 {
		ss.Retry.MaxAttempts = session.DefaultMaxAttempts
	}
	if ss.Retry.Backoff <= 0 {
		ss.Retry.Backoff = Duration(session.DefaultBackoff)
	}
	if ss.Retry.MaxBackoff <= 0 {
		ss.Retry.MaxBackoff = Duration(session.DefaultMaxBackoff)
	}

	if cfg.Playback.Player == "" {
		cfg.Playback.Player = PlayerExec
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Credentials
	c := cfg.Credentials
	if c.AppID == "" {
		errs = append(errs, fmt.Errorf("credentials.app_id is required (or set %s)", EnvAppID))
	}
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("credentials.api_key is required (or set %s)", EnvAPIKey))
	}
	if c.APISecret == "" {
		errs = append(errs, fmt.Errorf("credentials.api_secret is required (or set %s)", EnvAPISecret))
	}

	// TTS
	for name, v := range map[string]int{"speed": cfg.TTS.Speed, "volume": cfg.TTS.Volume, "pitch": cfg.TTS.Pitch} {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("tts.%s %d is out of range [0, 100]", name, v))
		}
	}

	// ASR
	if _, err := asr.ParseMode(cfg.ASR.Mode); err != nil {
		errs = append(errs, fmt.Errorf("asr.mode %q is invalid; valid values: binary, base64", cfg.ASR.Mode))
	}
	if err := (asr.Business{Extra: cfg.ASR.Extra}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("asr.extra: %w", err))
	}
	if cfg.ASR.FrameSize < 0 || cfg.ASR.FrameSize%2 != 0 {
		errs = append(errs, fmt.Errorf("asr.frame_size %d must be a positive even number of bytes", cfg.ASR.FrameSize))
	}
	if cfg.ASR.VADEOS < 0 {
		errs = append(errs, fmt.Errorf("asr.vad_eos %d must not be negative", cfg.ASR.VADEOS))
	}
	if cfg.ASR.FrameInterval < 0 {
		errs = append(errs, errors.New("asr.frame_interval must not be negative"))
	}

	// Session
	r := cfg.Session.Retry
	if r.MaxBackoff > 0 && r.Backoff > r.MaxBackoff {
		errs = append(errs, fmt.Errorf("session.retry.backoff %s exceeds max_backoff %s", r.Backoff.Std(), r.MaxBackoff.Std()))
	}
	if cfg.Session.ReadLimit < 0 {
		errs = append(errs, errors.New("session.read_limit must not be negative"))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g must be within [0, 1]", r))
	}

	// Playback
	if cfg.Playback.Player != "" && !cfg.Playback.Player.IsValid() {
		errs = append(errs, fmt.Errorf("playback.player %q is invalid; valid values: exec, file, none", cfg.Playback.Player))
	}

	return errors.Join(errs...)
}

// SessionConfig converts the session section to a [session.Config] without
// signer, dialer or observers.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		IdleTimeout:   c.Session.IdleTimeout.Std(),
		FrameInterval: c.ASR.FrameInterval.Std(),
		Retry: session.RetryPolicy{
			MaxAttempts: c.Session.Retry.MaxAttempts,
			Backoff:     c.Session.Retry.Backoff.Std(),
			MaxBackoff:  c.Session.Retry.MaxBackoff.Std(),
		},
	}
}

// TTSOptions returns the configured voice.
func (c *Config) TTSOptions() tts.Options {
	return tts.Options{
		Voice:  c.TTS.Voice,
		Speed:  c.TTS.Speed,
		Volume: c.TTS.Volume,
		Pitch:  c.TTS.Pitch,
		Extra:  c.TTS.Extra,
	}
}

// ASRBusiness returns the configured recognition parameters.
func (c *Config) ASRBusiness() asr.Business {
	return asr.Business{
		Language: c.ASR.Language,
		Domain:   c.ASR.Domain,
		Accent:   c.ASR.Accent,
		VADEOS:   c.ASR.VADEOS,
		Extra:    c.ASR.Extra,
	}
}

// ASRMode returns the parsed upload framing. Validate guarantees it parses.
func (c *Config) ASRMode() asr.Mode {
	m, _ := asr.ParseMode(c.ASR.Mode)
	return m
}
