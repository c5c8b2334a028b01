// Command xfspeech synthesizes and recognizes speech with the xfyun
// streaming WebSocket API.
//
// Usage:
//
//	xfspeech synth     -text "你好" [-out hello.wav] [-play]
//	xfspeech recognize -in clip.wav [-partials]
//	xfspeech serve     [-config config.yaml]
//
// Credentials come from the config file or the XFYUN_APP_ID, XFYUN_API_KEY
// and XFYUN_API_SECRET environment variables.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/xfspeech/internal/config"
	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech/client"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// command is one subcommand.
type command struct {
	name  string
	usage string
	run   func(args []string, stdout, stderr io.Writer) int
}

func commands() []command {
	return []command{
		{"synth", "synthesize text to a WAV file or the speakers", runSynth},
		{"recognize", "transcribe a WAV file", runRecognize},
		{"serve", "run the HTTP gateway", runServe},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	if args[0] == "version" {
		fmt.Fprintln(stdout, "xfspeech", version)
		return 0
	}
	for _, c := range commands() {
		if c.name == args[0] {
			return c.run(args[1:], stdout, stderr)
		}
	}
	fmt.Fprintf(stderr, "xfspeech: unknown command %q\n\n", args[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: xfspeech <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "version", "print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'xfspeech <command> -h' for the flags of a command.")
}

// ── Shared setup ─────────────────────────────────────────────────────────────

// newFlagSet returns a flag set with the common -config flag.
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("xfspeech "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "path to the YAML configuration file (default: environment only)")
	return fs, path
}

// loadConfig loads path and reports failures on stderr.
func loadConfig(path string, stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "xfspeech: config file %q not found; copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(stderr, "xfspeech: %v\n", err)
		}
		return nil, false
	}
	return cfg, true
}

// newClient builds a speech client from cfg.
func newClient(cfg *config.Config, logger *slog.Logger, rec session.Recorder) (*client.Client, error) {
	sc := cfg.SessionConfig()
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithIdleTimeout(sc.IdleTimeout),
		client.WithRetry(sc.Retry),
		client.WithFrameInterval(sc.FrameInterval),
		client.WithReadLimit(cfg.Session.ReadLimit),
	}
	if rec != nil {
		opts = append(opts, client.WithRecorder(rec))
	}
	return client.New(cfg.Credentials.Speech(), opts...)
}

// newPlayer builds the configured audio output.
func newPlayer(cfg config.PlaybackConfig) (audio.Player, error) {
	switch cfg.Player {
	case config.PlayerFile:
		return audio.FilePlayer{Dir: cfg.Dir}, nil
	case config.PlayerNone:
		return audio.NopPlayer{Realtime: true}, nil
	default:
		cmd := cfg.Command
		if cmd == "" {
			var err error
			if cmd, err = audio.DetectCommand(); err != nil {
				return nil, err
			}
		}
		return audio.ExecPlayer{Command: cmd}, nil
	}
}

// ── Logger ───────────────────────────────────────────────────────────────────

// newLogger returns a text logger on w whose level follows lvl.
func newLogger(w io.Writer, lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// levelVar returns a [slog.LevelVar] set to level.
func levelVar(level config.LogLevel) *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(level.SlogLevel())
	return v
}
