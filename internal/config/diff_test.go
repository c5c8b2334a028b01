package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/xfspeech/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:      config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Credentials: config.CredentialsConfig{AppID: "a", APIKey: "k", APISecret: "s"},
		TTS:         config.TTSConfig{Host: "tts-api.xfyun.cn", Voice: "x4_lingbosong", Speed: 50, Volume: 50, Pitch: 50},
		ASR:         config.ASRConfig{Host: "iat-api.xfyun.cn", Mode: "binary", FrameSize: 320},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.VoiceChanged {
		t.Error("expected VoiceChanged=false for identical configs")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"voice", func(c *config.Config) { c.TTS.Voice = "xiaoyan" }},
		{"speed", func(c *config.Config) { c.TTS.Speed = 80 }},
		{"pitch", func(c *config.Config) { c.TTS.Pitch = 10 }},
		{"extra", func(c *config.Config) { c.TTS.Extra = map[string]any{"bgs": 1} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !d.VoiceChanged {
				t.Error("expected VoiceChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("voice change must not require restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Credentials.APISecret = "rotated"
	new.ASR.Mode = "base64"
	new.TTS.FallbackHosts = []string{"backup"}
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	want := []string{"asr", "credentials", "server.listen_addr", "tts.endpoint"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if d.VoiceChanged || d.LogLevelChanged {
		t.Error("unexpected hot-reloadable change")
	}
}
