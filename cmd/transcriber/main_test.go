package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bonchardon-dev/audio-transcription/internal/config"
	"github.com/bonchardon-dev/audio-transcription/internal/convert"
	"github.com/bonchardon-dev/audio-transcription/internal/metrics"
	"github.com/bonchardon-dev/audio-transcription/internal/pipeline"
	"github.com/bonchardon-dev/audio-transcription/internal/transcription"
)

func fakeTool(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildHTTPBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Convert.FFmpegPath = fakeTool(t)
	cfg.Convert.WorkDir = t.TempDir()
	cfg.Transcription.Backend = "http"
	cfg.Transcription.Endpoint = "http://localhost:9000/v1/audio/transcriptions"
	cfg.Transcription.APIKey = "test-key"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := build(context.Background(), cfg, metrics.NewMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer app.close()

	if app.controller == nil || app.chunker == nil || app.detector == nil {
		t.Fatal("Expected wired pipeline")
	}

	if app.client == nil {
		t.Error("Expected HTTP client for http backend")
	}
}

func TestMissingToolFailsConvertStage(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cfg := config.Default()
	cfg.Convert.FFmpegPath = "/nonexistent/ffmpeg"
	cfg.Convert.FallbackPaths = nil
	cfg.Convert.WorkDir = t.TempDir()
	cfg.Transcription.APIKey = "test-key"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := build(context.Background(), cfg, metrics.NewMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer app.close()

	recording := filepath.Join(t.TempDir(), "call.m4a")
	if err := os.WriteFile(recording, []byte("m4a"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = app.controller.Run(context.Background(), recording)

	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected *StageError, got %v", err)
	}

	if stageErr.Stage != pipeline.StageConvert || stageErr.Kind != pipeline.KindConversion {
		t.Errorf("Expected convert/conversion, got %s/%s", stageErr.Stage, stageErr.Kind)
	}

	if !errors.Is(err, convert.ErrToolNotFound) {
		t.Errorf("Expected ErrToolNotFound in chain, got %v", err)
	}
}

func TestPromptOrDefault(t *testing.T) {
	if promptOrDefault("") != transcription.DefaultPrompt {
		t.Error("Expected default prompt for empty value")
	}

	if promptOrDefault("Speaker_0: так") != "Speaker_0: так" {
		t.Error("Expected configured prompt to be kept")
	}
}

func TestInitLoggerLevels(t *testing.T) {
	logger := initLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info to be disabled at warn level")
	}

	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("Expected warn to be enabled")
	}
}
