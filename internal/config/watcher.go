package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the difference between the previous and the newly
// loaded config together with the new config.
type ChangeFunc func(d ConfigDiff, cfg *Config)

// Watcher reloads a config file when its content changes and reports what
// changed. Invalid revisions are rejected and the last valid config stays
// current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	log      *slog.Logger
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
	mtime   time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookup sets the environment lookup applied on every reload. Default:
// [os.LookupEnv].
func WithLookup(lookup LookupFunc) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// WithWatchLogger sets the logger. Default: [slog.Default].
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and returns a watcher for it. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		log:      slog.Default(),
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. Files whose modification time did not move
// are not read.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.mu.Lock()
			mtime := w.mtime
			w.mu.Unlock()

			info, err := os.Stat(w.path)
			if err != nil {
				w.log.Warn("config: cannot stat watched file", "path", w.path, "err", err)
				continue
			}
			if info.ModTime().Equal(mtime) {
				continue
			}
			if _, _, err := w.Reload(); err != nil {
				w.log.Warn("config: rejected new revision, keeping the previous one", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now. It reports whether the content changed; on
// change the callback runs before Reload returns. An invalid file returns
// its error and leaves the current config in place.
func (w *Watcher) Reload() (ConfigDiff, bool, error) {
	cfg, sum, mtime, err := w.read()
	if err != nil {
		return ConfigDiff{}, false, err
	}

	w.mu.Lock()
	w.mtime = mtime
	if sum == w.sum {
		w.mu.Unlock()
		return ConfigDiff{}, false, nil
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	d := Diff(old, cfg)
	w.log.Info("config: reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"voice_changed", d.VoiceChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return d, true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	cfg, err := LoadFromReaderEnv(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
