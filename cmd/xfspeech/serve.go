package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/xfspeech/internal/config"
	"github.com/MrWong99/xfspeech/internal/events"
	"github.com/MrWong99/xfspeech/internal/gateway"
	"github.com/MrWong99/xfspeech/internal/health"
	"github.com/MrWong99/xfspeech/internal/observe"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("serve", stderr)
	listen := fs.String("listen", "", "listen address (overrides server.listen_addr)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(*configPath, stderr)
	if !ok {
		return 1
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	lvl := levelVar(cfg.Server.LogLevel)
	logger := newLogger(stderr, lvl)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: serviceVersion(cfg),
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		logger.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Speech client ─────────────────────────────────────────────────────
	c, err := newClient(cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to create speech client", "err", err)
		return 1
	}

	// ── Events ────────────────────────────────────────────────────────────
	opts := []gateway.Option{
		gateway.WithMetrics(metrics),
		gateway.WithMetricsHandler(tel.Handler),
		gateway.WithLogger(logger),
	}
	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(cfg.Events.NATSURL,
			events.WithPrefix(cfg.Events.SubjectPrefix),
			events.WithMetrics(metrics),
			events.WithLogger(logger),
		)
		if err != nil {
			logger.Error("failed to connect to NATS", "err", err)
			return 1
		}
		defer pub.Close()
		opts = append(opts,
			gateway.WithEvents(pub, cfg.Events.PublishPartials),
			gateway.WithCheckers(health.Checker{Name: "events", Check: pub.Check}),
		)
	}

	srv := gateway.NewFromConfig(c, cfg, opts...)

	// ── Hot reload ────────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, func(d config.ConfigDiff, next *config.Config) {
			applyReload(logger, lvl, srv, d, next)
		}, config.WithWatchLogger(logger))
		if err != nil {
			logger.Warn("config watcher disabled", "err", err)
			watcher = nil
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(stdout, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error {
			reloadOnHangup(gctx, logger, watcher)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gateway")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway stopped", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, logger *slog.Logger, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_, changed, err := w.Reload()
			switch {
			case err != nil:
				logger.Warn("SIGHUP reload rejected", "err", err)
			case !changed:
				logger.Info("SIGHUP reload: config unchanged")
			}
		}
	}
}

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(logger *slog.Logger, lvl *slog.LevelVar, srv *gateway.Server, d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged {
		lvl.Set(d.NewLogLevel.SlogLevel())
		logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		srv.SetVoice(cfg.TTSOptions())
	}
	if len(d.RestartRequired) > 0 {
		logger.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

func serviceVersion(cfg *config.Config) string {
	if cfg.Telemetry.ServiceVersion != "" {
		return cfg.Telemetry.ServiceVersion
	}
	return version
}

func printStartupSummary(w io.Writer, cfg *config.Config) {
	scheme := "http"
	if cfg.Server.TLS != nil {
		scheme = "https"
	}
	events := "disabled"
	if cfg.Events.NATSURL != "" {
		events = "nats, prefix " + cfg.Events.SubjectPrefix
	}
	fmt.Fprintln(w, "╔══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           xfspeech gateway               ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════╝")
	fmt.Fprintf(w, "  Listen   : %s://%s\n", scheme, cfg.Server.ListenAddr)
	fmt.Fprintf(w, "  TTS      : %s%s (+%d fallback)\n", cfg.TTS.Host, cfg.TTS.Path, len(cfg.TTS.FallbackHosts))
	fmt.Fprintf(w, "  ASR      : %s%s (+%d fallback, %s)\n", cfg.ASR.Host, cfg.ASR.Path, len(cfg.ASR.FallbackHosts), cfg.ASRMode())
	fmt.Fprintf(w, "  Voice    : %s\n", cfg.TTS.Voice)
	fmt.Fprintf(w, "  Events   : %s\n", events)
	fmt.Fprintf(w, "  Log level: %s\n", cfg.Server.LogLevel)
}
