package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and the default voice are applied without restart;
// everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if any tts voice parameter changed.
	VoiceChanged bool

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ot, nt := old.TTS, new.TTS
	if ot.Voice != nt.Voice || ot.Speed != nt.Speed || ot.Volume != nt.Volume ||
		ot.Pitch != nt.Pitch || !maps.EqualFunc(ot.Extra, nt.Extra, reflect.DeepEqual) {
		d.VoiceChanged = true
	}

	sections := map[string][2]any{
		"server.listen_addr": {old.Server.ListenAddr, new.Server.ListenAddr},
		"server.tls":         {old.Server.TLS, new.Server.TLS},
		"credentials":        {old.Credentials, new.Credentials},
		"tts.endpoint":       {[]any{ot.Host, ot.Path, ot.FallbackHosts}, []any{nt.Host, nt.Path, nt.FallbackHosts}},
		"asr":                {old.ASR, new.ASR},
		"session":            {old.Session, new.Session},
		"events":             {old.Events, new.Events},
		"circuit_breaker":    {old.CircuitBreaker, new.CircuitBreaker},
	}
	for name, pair := range sections {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}
