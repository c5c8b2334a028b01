package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/xfspeech/internal/events"
	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech/asr"
)

func runRecognize(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("recognize", stderr)
	in := fs.String("in", "", "WAV file to transcribe (required)")
	partials := fs.Bool("partials", false, "print partial transcripts to stderr")
	mode := fs.String("mode", "", "upload framing: binary or base64 (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(stderr, "xfspeech recognize: -in is required")
		fs.Usage()
		return 2
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	logger := newLogger(stderr, levelVar(cfg.Server.LogLevel))

	m := cfg.ASRMode()
	if *mode != "" {
		var err error
		if m, err = asr.ParseMode(*mode); err != nil {
			fmt.Fprintf(stderr, "xfspeech recognize: %v\n", err)
			return 2
		}
	}

	clip, err := readClip(*in)
	if err != nil {
		fmt.Fprintf(stderr, "xfspeech recognize: %v\n", err)
		return 1
	}

	c, err := newClient(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "xfspeech recognize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		np, err := events.Connect(cfg.Events.NATSURL,
			events.WithPrefix(cfg.Events.SubjectPrefix),
			events.WithLogger(logger),
		)
		if err != nil {
			fmt.Fprintf(stderr, "xfspeech recognize: %v\n", err)
			return 1
		}
		pub = np
	}
	defer pub.Close()

	var observer asr.Observer
	if *partials || cfg.Events.PublishPartials {
		observer = func(text string) {
			if *partials {
				fmt.Fprintf(stderr, "… %s\n", text)
			}
			if cfg.Events.PublishPartials {
				if err := pub.PublishTranscript(ctx, events.Transcript{Text: text}); err != nil {
					logger.Warn("failed to publish partial transcript", "err", err)
				}
			}
		}
	}

	rec := c.Recognizer(
		asr.WithEndpoint(cfg.ASR.Host, cfg.ASR.Path),
		asr.WithBusiness(cfg.ASRBusiness()),
		asr.WithMode(m),
		asr.WithFrameSize(cfg.ASR.FrameSize),
		asr.WithObserver(observer),
	)
	logger.Debug("uploading clip",
		"samples", len(clip.Samples),
		"frames", rec.UploadFrames(audio.WAVHeaderSize+len(clip.Samples)*2),
		"mode", m,
	)
	text, err := rec.Recognize(ctx, clip.Samples, clip.SampleRate)
	if err != nil {
		fmt.Fprintf(stderr, "xfspeech recognize: %v\n", err)
		return 1
	}
	if err := pub.PublishTranscript(ctx, events.Transcript{Text: text, Final: true}); err != nil {
		logger.Warn("failed to publish transcript", "err", err)
	}
	fmt.Fprintln(stdout, text)
	return 0
}

// readClip decodes a WAV file and converts it to the service format.
func readClip(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, err
	}
	defer f.Close()
	buf, err := audio.DecodeWAV(f)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%s: %w", path, err)
	}
	return audio.ToSpeechFormat(buf), nil
}
