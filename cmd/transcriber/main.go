package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
	"github.com/bonchardon-dev/audio-transcription/internal/config"
	"github.com/bonchardon-dev/audio-transcription/internal/convert"
	"github.com/bonchardon-dev/audio-transcription/internal/diarize"
	"github.com/bonchardon-dev/audio-transcription/internal/metrics"
	"github.com/bonchardon-dev/audio-transcription/internal/observe"
	"github.com/bonchardon-dev/audio-transcription/internal/pipeline"
	"github.com/bonchardon-dev/audio-transcription/internal/server"
	"github.com/bonchardon-dev/audio-transcription/internal/transcription"
	"github.com/bonchardon-dev/audio-transcription/internal/vad"
)

const (
	serviceName    = "audio-transcription"
	serviceVersion = "1.0.0"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	input := flag.String("input", "", "Recording to transcribe")
	serve := flag.Bool("serve", false, "Run the HTTP job API instead of a single recording")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitUsage
	}

	logger := initLogger(cfg.Logging)

	if *input == "" && !*serve && !cfg.HTTP.Enabled {
		if flag.NArg() > 0 {
			*input = flag.Arg(0)
		} else {
			fmt.Fprintln(os.Stderr, "usage: transcriber [-config file] (-input recording | -serve)")
			return exitUsage
		}
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("transcription_backend", cfg.Transcription.Backend),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("language", cfg.Transcription.Language),
		slog.String("diarization_backend", cfg.Diarization.Backend),
		slog.Int64("chunk_duration_ms", cfg.Chunking.DurationMs),
		slog.Int64("chunk_max_bytes", cfg.Chunking.MaxBytes),
		slog.Float64("silence_margin_db", cfg.Silence.MarginDB),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observe.InitTracing(observe.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", slog.String("error", err.Error()))
		return exitFailure
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	appMetrics := metrics.NewMetrics(nil)

	app, err := build(ctx, cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", slog.String("error", err.Error()))
		return exitFailure
	}
	defer app.close()

	if *serve || cfg.HTTP.Enabled {
		return serveJobs(ctx, cfg, app, appMetrics, logger)
	}

	result, err := app.controller.Run(ctx, *input)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			logger.Error("Transcription failed",
				slog.String("stage", string(stageErr.Stage)),
				slog.String("kind", string(stageErr.Kind)),
				slog.String("error", stageErr.Err.Error()))
		} else {
			logger.Error("Transcription failed", slog.String("error", err.Error()))
		}
		return exitFailure
	}

	fmt.Println(result.Transcript.OutputPath)
	return exitOK
}

// application holds the wired pipeline and the resources to release
type application struct {
	controller *pipeline.Controller
	chunker    *audio.Chunker
	detector   *vad.Detector
	client     *transcription.HTTPClient
	closers    []io.Closer
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*application, error) {
	app := &application{}

	if _, err := convert.ResolveTool(cfg.Convert.FFmpegPath, cfg.Convert.FallbackPaths...); err != nil {
		logger.Warn("ffmpeg not available, conversions will fail", slog.String("error", err.Error()))
	}

	converter, err := convert.NewFFmpeg(convert.Config{
		Tool:          cfg.Convert.FFmpegPath,
		FallbackPaths: cfg.Convert.FallbackPaths,
		SampleRate:    cfg.Convert.SampleRate,
		WorkDir:       cfg.Convert.WorkDir,
		Timeout:       cfg.Convert.GetTimeoutDuration(),
	}, logger)
	if err != nil {
		return nil, err
	}

	app.detector, err = vad.NewDetector(cfg.Silence.SeekStepMs)
	if err != nil {
		return nil, err
	}

	trimmer, err := vad.NewTrimmer(app.detector, vad.TrimConfig{
		MarginDB:     cfg.Silence.MarginDB,
		MinSilenceMs: cfg.Silence.MinSilenceMs,
		LeadInMs:     cfg.Silence.LeadInMs,
		MergeGapMs:   cfg.Silence.MergeGapMs,
	}, logger)
	if err != nil {
		return nil, err
	}

	app.chunker, err = audio.NewChunker(audio.ChunkingConfig{
		Duration: cfg.Chunking.GetDuration(),
		MaxBytes: cfg.Chunking.MaxBytes,
		TempDir:  cfg.Chunking.TempDir,
	})
	if err != nil {
		return nil, err
	}

	service, err := app.newService(ctx, cfg.Transcription, logger)
	if err != nil {
		app.close()
		return nil, err
	}

	orchestrator, err := transcription.NewOrchestrator(service, app.chunker, transcription.OrchestratorConfig{
		Model:          cfg.Transcription.Model,
		Language:       cfg.Transcription.Language,
		Prompt:         promptOrDefault(cfg.Transcription.Prompt),
		ResponseFormat: cfg.Transcription.ResponseFormat,
		MaxConcurrent:  cfg.Transcription.MaxConcurrent,
	}, logger)
	if err != nil {
		app.close()
		return nil, err
	}
	orchestrator.WithRecorder(m)

	deps := pipeline.Dependencies{
		Converter:   converter,
		Trimmer:     trimmer,
		Chunker:     app.chunker,
		Transcriber: orchestrator,
		Recorder:    m,
	}

	if cfg.Diarization.Enabled() {
		model, err := app.newDiarizer(cfg.Diarization, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		deps.Diarizer = model
		deps.Adapter = diarize.NewAdapter(logger)

		if cfg.Diarization.ExportDir != "" {
			exporter, err := diarize.NewExporter(cfg.Diarization.ExportDir, logger)
			if err != nil {
				app.close()
				return nil, err
			}
			deps.Exporter = exporter
		}
	}

	app.controller, err = pipeline.NewController(deps, pipeline.Config{WorkDir: cfg.Convert.WorkDir}, logger)
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (a *application) newService(ctx context.Context, cfg config.TranscriptionConfig, logger *slog.Logger) (transcription.Service, error) {
	switch cfg.Backend {
	case "http":
		client, err := transcription.NewHTTPClient(transcription.Config{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
			UserAgent:     serviceName + "/" + serviceVersion,
		})
		if err != nil {
			return nil, err
		}
		a.client = client
		a.closers = append(a.closers, client)
		return client, nil
	case "openai":
		return transcription.NewOpenAIService(transcription.OpenAIConfig{
			APIKey:     cfg.APIKey,
			Timeout:    cfg.GetTimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		}, logger)
	case "google":
		svc, err := transcription.NewSpeechService(ctx, transcription.SpeechConfig{
			CredentialsFile: cfg.CredentialsFile,
			LanguageCode:    cfg.LanguageCode,
			MaxRetries:      cfg.MaxRetries,
			Timeout:         cfg.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, svc)
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

func (a *application) newDiarizer(cfg config.DiarizationConfig, logger *slog.Logger) (diarize.Model, error) {
	switch cfg.Backend {
	case "sherpa":
		sc := diarize.DefaultSherpaConfig(cfg.Sherpa.SegmentationModel, cfg.Sherpa.EmbeddingModel)
		sc.NumThreads = cfg.Sherpa.NumThreads
		sc.ClusteringThreshold = cfg.Sherpa.Threshold
		if cfg.Sherpa.NumSpeakers > 0 {
			sc.NumSpeakers = cfg.Sherpa.NumSpeakers
		}
		if cfg.Sherpa.Provider != "" {
			sc.Provider = cfg.Sherpa.Provider
		}

		model, err := diarize.NewSherpaModel(sc, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, model)
		return model, nil
	case "command":
		return diarize.NewCommandModel(cfg.Command.Path, cfg.Command.Args, logger)
	default:
		return nil, fmt.Errorf("unknown diarization backend %q", cfg.Backend)
	}
}

func promptOrDefault(prompt string) string {
	if prompt == "" {
		return transcription.DefaultPrompt
	}
	return prompt
}

func serveJobs(ctx context.Context, cfg *config.Config, app *application, m *metrics.Metrics, logger *slog.Logger) int {
	jobs, err := server.NewJobManager(app.controller, server.ManagerConfig{
		Retention: cfg.HTTP.GetRetentionDuration(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create job manager", slog.String("error", err.Error()))
		return exitFailure
	}
	jobs.WithGauge(m)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:    cfg.HTTP.Port,
		Address: cfg.HTTP.Address,
	}, logger, cfg, jobs, m)

	httpServer.WithStats("chunker", func() any { return app.chunker.GetStats() })
	httpServer.WithStats("silence", func() any { return app.detector.GetStats() })
	if app.client != nil {
		httpServer.WithStats("transcription", func() any { return app.client.GetStats() })
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return exitFailure
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	jobs.Stop()

	stats := jobs.GetStats()
	logger.Info("Final job statistics",
		slog.Int("total", stats.Total),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
	)

	logger.Info("Service stopped")
	return exitOK
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

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
