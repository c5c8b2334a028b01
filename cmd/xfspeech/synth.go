package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

func runSynth(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("synth", stderr)
	text := fs.String("text", "", "text to synthesize (required)")
	voice := fs.String("voice", "", "voice name (default from config)")
	speed := fs.Int("speed", 0, "speed 1-100 (default from config)")
	out := fs.String("out", "", "write the audio to this WAV file")
	play := fs.Bool("play", false, "play the audio with the configured player")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *text == "" {
		fmt.Fprintln(stderr, "xfspeech synth: -text is required")
		fs.Usage()
		return 2
	}
	if *out == "" && !*play {
		fmt.Fprintln(stderr, "xfspeech synth: nothing to do, pass -out and/or -play")
		return 2
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	logger := newLogger(stderr, levelVar(cfg.Server.LogLevel))

	c, err := newClient(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "xfspeech synth: %v\n", err)
		return 1
	}

	var player audio.Player = audio.NopPlayer{}
	if *play {
		if player, err = newPlayer(cfg.Playback); err != nil {
			fmt.Fprintf(stderr, "xfspeech synth: %v\n", err)
			return 1
		}
	}
	synth := c.Synthesizer(
		tts.WithEndpoint(cfg.TTS.Host, cfg.TTS.Path),
		tts.WithDefaults(cfg.TTSOptions()),
		tts.WithPlayer(player),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := tts.Options{Voice: *voice, Speed: *speed}
	var buf audio.Buffer
	if *play {
		// The end hook makes Speak wait until playback finished.
		buf, err = synth.Speak(ctx, *text, opts, tts.Hooks{
			OnPlaybackStart: func() { logger.Debug("playback started") },
			OnPlaybackEnd:   func() { logger.Debug("playback finished") },
		})
	} else {
		buf, err = synth.Synthesize(ctx, *text, opts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "xfspeech synth: %v\n", err)
		return 1
	}

	if *out != "" {
		if err := writeWAV(*out, buf); err != nil {
			fmt.Fprintf(stderr, "xfspeech synth: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(stdout, "synthesized %s of audio (%d samples)\n", buf.Duration(), len(buf.Samples))
	return 0
}

func writeWAV(path string, buf audio.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.WriteWAVFile(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
