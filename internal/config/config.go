// Package config provides the configuration schema and loader for the
// xfspeech client, CLI and gateway.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PlayerKind selects the audio output used by the CLI.
type PlayerKind string

const (
	PlayerExec PlayerKind = "exec"
	PlayerFile PlayerKind = "file"
	PlayerNone PlayerKind = "none"
)

// IsValid reports whether p is a recognised player kind.
func (p PlayerKind) IsValid() bool {
	switch p {
	case PlayerExec, PlayerFile, PlayerNone:
		return true
	}
	return false
}

// Duration is a [time.Duration] written as a Go duration string in YAML
// ("5s", "250ms").
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Credentials    CredentialsConfig    `yaml:"credentials"`
	TTS            TTSConfig            `yaml:"tts"`
	ASR            ASRConfig            `yaml:"asr"`
	Session        SessionConfig        `yaml:"session"`
	Playback       PlaybackConfig       `yaml:"playback"`
	Events         EventsConfig         `yaml:"events"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds network and logging settings for the gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxBodyBytes bounds request bodies. Default: 16 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RequestTimeout bounds a single gateway request including upstream
	// sessions. Default: 30s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CredentialsConfig holds the service credentials. Each field may be
// overridden from the environment (see [ApplyEnv]).
type CredentialsConfig struct {
	AppID     string `yaml:"app_id"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Speech converts c to [speech.Credentials].
func (c CredentialsConfig) Speech() speech.Credentials {
	return speech.Credentials{AppID: c.AppID, APIKey: c.APIKey, APISecret: c.APISecret}
}

// LogValue implements [slog.LogValuer] and never renders secrets.
func (c CredentialsConfig) LogValue() slog.Value {
	return c.Speech().LogValue()
}

// TTSConfig configures synthesis.
type TTSConfig struct {
	Host string `yaml:"host"`
	Path string `yaml:"path"`

	// FallbackHosts are tried in order when Host fails or its circuit is open.
	FallbackHosts []string `yaml:"fallback_hosts"`

	Voice  string `yaml:"voice"`
	Speed  int    `yaml:"speed"`
	Volume int    `yaml:"volume"`
	Pitch  int    `yaml:"pitch"`

	// Extra is merged into the business object of every request.
	Extra map[string]any `yaml:"extra"`
}

// ASRConfig configures recognition.
type ASRConfig struct {
	Host          string   `yaml:"host"`
	Path          string   `yaml:"path"`
	FallbackHosts []string `yaml:"fallback_hosts"`

	Language string `yaml:"language"`
	Domain   string `yaml:"domain"`
	Accent   string `yaml:"accent"`
	VADEOS   int    `yaml:"vad_eos"`

	// Mode is the upload framing: "binary" or "base64".
	Mode string `yaml:"mode"`

	// FrameSize is the upload slice size in bytes.
	FrameSize int `yaml:"frame_size"`

	// FrameInterval paces outbound slices. Zero sends as fast as possible.
	FrameInterval Duration `yaml:"frame_interval"`

	Extra map[string]any `yaml:"extra"`
}

// SessionConfig tunes every streaming session.
type SessionConfig struct {
	IdleTimeout Duration    `yaml:"idle_timeout"`
	ReadLimit   int64       `yaml:"read_limit"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors the session retry policy.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     Duration `yaml:"backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// PlaybackConfig selects how the CLI plays synthesized audio.
type PlaybackConfig struct {
	Player PlayerKind `yaml:"player"`

	// Command is the exec player command line. Empty means auto-detect.
	Command string `yaml:"command"`

	// Dir receives WAV files when Player is "file".
	Dir string `yaml:"dir"`
}

// EventsConfig configures result publication. Events are disabled when
// NATSURL is empty.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	// PublishPartials also publishes partial transcripts.
	PublishPartials bool `yaml:"publish_partials"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// TraceSampleRatio is the fraction of new traces sampled. Zero samples
	// everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// CircuitBreakerConfig tunes the per-host breakers of the gateway.
type CircuitBreakerConfig struct {
	MaxFailures  int      `yaml:"max_failures"`
	ResetTimeout Duration `yaml:"reset_timeout"`
	HalfOpenMax  int      `yaml:"half_open_max"`
}
