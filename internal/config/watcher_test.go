package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/xfspeech/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
credentials:
  app_id: a
  api_key: k
  api_secret: s
tts:
  voice: x4_lingbosong
`

const watcherUpdatedYAML = `
server:
  log_level: debug
credentials:
  app_id: a
  api_key: k
  api_secret: s
tts:
  voice: xiaoyan
asr:
  mode: base64
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// changeRecorder collects watcher callbacks.
type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	last  *config.Config
	fired chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 8)}
}

func (r *changeRecorder) record(d config.ConfigDiff, cfg *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.last = cfg
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func newWatchedFile(t *testing.T, content string, onChange config.ChangeFunc, opts ...config.WatcherOption) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, append([]config.WatcherOption{config.WithLookup(noEnv)}, opts...)...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatchedFile(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.ASR.FrameSize != 320 {
		t.Errorf("defaults not applied: frame_size = %d", cfg.ASR.FrameSize)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil, config.WithLookup(noEnv)); err == nil {
		t.Fatal("expected error for an invalid initial file")
	}
}

func TestWatcher_ReloadReportsDiff(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatchedFile(t, watcherValidYAML, rec.record)

	writeFile(t, path, watcherUpdatedYAML)
	d, changed, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !changed {
		t.Fatal("Reload did not report a change")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level change not detected: %+v", d)
	}
	if !d.VoiceChanged {
		t.Error("voice change not detected")
	}
	if !slices.Contains(d.RestartRequired, "asr") {
		t.Errorf("RestartRequired = %v, want asr", d.RestartRequired)
	}

	if rec.count() != 1 {
		t.Fatalf("callback fired %d times, want 1", rec.count())
	}
	if rec.last != w.Current() || w.Current().TTS.Voice != "xiaoyan" {
		t.Errorf("callback config and Current() disagree: %q", w.Current().TTS.Voice)
	}
}

func TestWatcher_ReloadUnchangedContent(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatchedFile(t, watcherValidYAML, rec.record)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if _, changed, err := w.Reload(); err != nil || changed {
		t.Errorf("Reload after touch = changed %v, err %v; want no change", changed, err)
	}
	if rec.count() != 0 {
		t.Errorf("callback fired %d times for a touch", rec.count())
	}
}

func TestWatcher_ReloadRejectsInvalid(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatchedFile(t, watcherValidYAML, rec.record)
	before := w.Current()

	writeFile(t, path, watcherInvalidYAML)
	if _, changed, err := w.Reload(); err == nil || changed {
		t.Fatalf("Reload of invalid file = changed %v, err %v; want error", changed, err)
	}
	if w.Current() != before {
		t.Error("invalid revision replaced the current config")
	}
	if rec.count() != 0 {
		t.Errorf("callback fired %d times for an invalid file", rec.count())
	}

	// A later valid revision is still picked up.
	writeFile(t, path, watcherUpdatedYAML)
	if _, changed, err := w.Reload(); err != nil || !changed {
		t.Errorf("Reload after fix = changed %v, err %v", changed, err)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := newWatchedFile(t, watcherValidYAML, rec.record, config.WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML)
	// Some filesystems have coarse mtimes; force a visible change.
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not pick up the change")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("log level after poll = %q, want debug", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
