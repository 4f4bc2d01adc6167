package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/audio"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/config"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/recognizer"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/server"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/session"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/supervisor"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "car-voice-assistant"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for built-in defaults)")
	kind := flag.String("transport", "", "Override transport kind: wifi or serial")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *kind != "" {
		cfg.Transport.Kind = *kind
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.Transport.Kind),
		slog.String("listen_address", cfg.Transport.ListenAddress),
		slog.Int("port", cfg.Transport.Port),
		slog.String("serial_device", cfg.Transport.SerialDevice),
		slog.Int("baud_rate", cfg.Transport.BaudRate),
		slog.Duration("capture_duration", cfg.Capture.GetDuration()),
		slog.Duration("grace_period", cfg.Session.GetGracePeriod()),
		slog.Duration("stale_after", cfg.Session.GetStaleAfter()),
		slog.String("recognizer_endpoint", cfg.Recognizer.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	link, err := transport.New(&cfg.Transport, logger)
	if err != nil {
		logger.Error("Failed to create transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	minBytes := cfg.Audio.MinAudioBytes(cfg.Session.GetMinAudioDuration())
	sess := session.New(nil, session.Options{
		GracePeriod:    cfg.Session.GetGracePeriod(),
		MinBytes:       minBytes,
		MaxBufferBytes: cfg.Session.MaxBufferBytes,
		Logger:         logger,
	})

	sup := supervisor.New(link, sess, supervisor.Options{
		HandshakeToken:   cfg.Handshake.Token,
		HandshakeTimeout: cfg.Handshake.GetTimeoutDuration(),
		StaleAfter:       cfg.Session.GetStaleAfter(),
		MaxPayload:       cfg.Session.MaxPartialFrame,
		Audio: audio.Options{
			MinBytes:     minBytes,
			TargetPeak:   cfg.Audio.TargetPeak,
			NoSignalPeak: cfg.Audio.NoSignalPeak,
		},
		Logger:  logger,
		Metrics: appMetrics,
	})

	recog, err := recognizer.NewClient(recognizer.Config{
		Endpoint: cfg.Recognizer.Endpoint,
		APIKey:   cfg.Recognizer.APIKey,
		Language: cfg.Recognizer.Language,
		Timeout:  cfg.Recognizer.GetTimeoutDuration(),
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create recognizer client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer recog.Close()

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, server.Options{
			Config:     cfg,
			Device:     sup,
			Recognizer: recog,
			Metrics:    appMetrics,
			Logger:     logger,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	a := &assistant{
		dev:   sup,
		recog: recog,
		cfg: loopConfig{
			CaptureDuration:        cfg.Capture.GetDuration(),
			MaxConsecutiveFailures: cfg.Capture.MaxConsecutiveFailures,
			ReconnectInitial:       cfg.Reconnect.GetInitialInterval(),
			ReconnectMax:           cfg.Reconnect.GetMaxInterval(),
			ReconnectMaxElapsed:    cfg.Reconnect.GetMaxElapsed(),
			RecognizeRetries:       cfg.Recognizer.MaxRetries,
			RetryInitial:           500 * time.Millisecond,
		},
		logger:  logger,
		metrics: appMetrics,
	}

	logger.Info("Service started successfully, waiting for peripheral...",
		slog.String("transport", link.String()),
	)

	runErr := a.run(ctx)
	if runErr != nil {
		logger.Error("Giving up on peripheral", slog.String("error", runErr.Error()))
	} else {
		logger.Info("Received shutdown signal")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := sup.Close(); err != nil {
		logger.Error("Error closing peripheral connection", slog.String("error", err.Error()))
	}

	stats := recog.GetStats()
	snap := sess.Snapshot()
	logger.Info("Final statistics",
		slog.Uint64("recognizer_requests", stats.TotalRequests),
		slog.Uint64("recognizer_successes", stats.SuccessRequests),
		slog.Uint64("last_capture_bytes", snap.BytesReceived),
	)

	logger.Info("Service stopped")
	if runErr != nil {
		os.Exit(1)
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
