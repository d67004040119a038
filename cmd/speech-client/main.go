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

	"github.com/joho/godotenv"

	"github.com/haichaukhuu/finchat-speech-client/internal/capture"
	"github.com/haichaukhuu/finchat-speech-client/internal/config"
	"github.com/haichaukhuu/finchat-speech-client/internal/metrics"
	"github.com/haichaukhuu/finchat-speech-client/internal/protocol"
	"github.com/haichaukhuu/finchat-speech-client/internal/server"
	"github.com/haichaukhuu/finchat-speech-client/internal/session"
	"github.com/haichaukhuu/finchat-speech-client/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "finchat-speech-client"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	language := flag.String("language", "", "Override the configured language code")
	listLanguages := flag.Bool("list-languages", false, "Print supported languages and exit")
	flag.Parse()

	if *listLanguages {
		for _, lang := range protocol.SupportedLanguages() {
			fmt.Printf("%-8s %s\n", lang.Code, lang.Name)
		}
		return
	}

	// Load .env before the config so SPEECH_AUTH_TOKEN is visible
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *language != "" {
		cfg.Session.LanguageCode = *language
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log client startup
	logger.Info("Client starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("endpoint", cfg.Backend.Endpoint),
		slog.String("language", cfg.Session.LanguageCode),
		slog.Bool("partial_results", cfg.Session.EnablePartialResults),
		slog.Int("device_sample_rate", cfg.Audio.DeviceSampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Int("retry_budget", cfg.Session.RetryBudget),
		slog.String("log_level", cfg.Logging.Level),
	)

	if !protocol.IsKnownLanguage(cfg.Session.LanguageCode) {
		logger.Warn("Language code is not in the known set, the backend may reject it",
			slog.String("language", cfg.Session.LanguageCode),
		)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Wire the backend channel dialer
	dial := transport.Dialer(transport.Config{
		Endpoint:         cfg.Backend.Endpoint,
		AuthToken:        cfg.Backend.AuthToken,
		HandshakeTimeout: cfg.Backend.GetConnectTimeout(),
	}, logger)

	// Wire the microphone source
	micFactory := capture.MicrophoneFactory(capture.Config{
		SampleRate:      cfg.Audio.DeviceSampleRate,
		Channels:        cfg.Audio.Channels,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
	})

	recordingDir := ""
	if cfg.Recording.Enabled {
		recordingDir = cfg.Recording.Directory
	}

	controller, err := session.NewController(logger,
		session.Config{
			LanguageCode:         cfg.Session.LanguageCode,
			EnablePartialResults: cfg.Session.EnablePartialResults,
			ChunkDuration:        cfg.Audio.ChunkDuration,
			InterChunkDelay:      cfg.Session.GetInterChunkDelay(),
			GracePeriod:          cfg.Session.GetGracePeriod(),
			RetryBudget:          cfg.Session.RetryBudget,
			RetryBackoff:         cfg.Session.GetRetryBackoff(),
			StartTimeout:         cfg.Backend.GetConnectTimeout(),
			RecordingDir:         recordingDir,
		},
		session.Callbacks{
			OnPartial: func(r session.Result) {
				fmt.Printf("\r... %s", r.Text)
			},
			OnFinal: func(r session.Result) {
				if r.Confidence != nil {
					fmt.Printf("\r>>> %s (%.2f)\n", r.Text, *r.Confidence)
				} else {
					fmt.Printf("\r>>> %s\n", r.Text)
				}
			},
			OnStatus: func(s session.State) {
				logger.Info("Session status", slog.String("state", s.String()))
			},
			OnError: func(err error) {
				logger.Error("Session failed", slog.String("error", err.Error()))
			},
		},
		session.Deps{
			Dial:      dial,
			NewSource: micFactory,
			Metrics:   appMetrics,
		},
	)
	if err != nil {
		logger.Error("Failed to create session controller", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, controller)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Start the recording session
	if err := controller.Start(ctx); err != nil {
		logger.Error("Failed to start session", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Recording, press Ctrl+C to stop...",
		slog.String("session_id", controller.SessionID()),
	)

	// Wait for shutdown signal or session end
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		controller.Stop()
	case <-controller.Done():
		logger.Info("Session ended")
	}

	// Wait for the session to finish its teardown
	<-controller.Done()

	// Stop HTTP server
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	logger.Info("Client stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
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
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
