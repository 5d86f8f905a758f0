package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
	"github.com/bonchardon-dev/audio-transcription/internal/interval"
)

// Default trimming parameters
const (
	DefaultMarginDB     = 14.0
	DefaultMinSilenceMs = 400
	DefaultLeadInMs     = 300
)

// ErrAllSilent is returned when a buffer has no non-silent ranges
var ErrAllSilent = errors.New("audio is completely silent")

// SilenceDetector reports the non-silent ranges of a buffer
type SilenceDetector interface {
	DetectNonSilent(b *audio.Buffer, minSilenceMs int64, threshDBFS float64) []interval.Interval
}

// TrimConfig contains configuration for silence trimming
type TrimConfig struct {
	MarginDB     float64 // Threshold below the buffer's own loudness
	MinSilenceMs int64   // Shorter quiet stretches are not silence
	LeadInMs     int64   // Pre-roll is kept when speech starts later than this
	MergeGapMs   int64
}

// DefaultTrimConfig returns the standard trimming parameters
func DefaultTrimConfig() TrimConfig {
	return TrimConfig{
		MarginDB:     DefaultMarginDB,
		MinSilenceMs: DefaultMinSilenceMs,
		LeadInMs:     DefaultLeadInMs,
		MergeGapMs:   interval.DefaultGap,
	}
}

// TrimResult holds the speech-only buffer and the ranges it was built from
type TrimResult struct {
	Audio     *audio.Buffer
	Ranges    []interval.Interval
	Threshold float64 // dBFS
}

// Trimmer removes silence from a buffer while keeping short pre-roll
type Trimmer struct {
	detector SilenceDetector
	config   TrimConfig
	logger   *slog.Logger
}

// NewTrimmer creates a new silence trimmer
func NewTrimmer(detector SilenceDetector, config TrimConfig, logger *slog.Logger) (*Trimmer, error) {
	if detector == nil {
		return nil, fmt.Errorf("silence detector is required")
	}

	if config.MinSilenceMs <= 0 {
		return nil, fmt.Errorf("min silence must be positive, got %d", config.MinSilenceMs)
	}

	if config.MarginDB < 0 {
		return nil, fmt.Errorf("margin must not be negative, got %f", config.MarginDB)
	}

	if config.LeadInMs < 0 || config.MergeGapMs < 0 {
		return nil, fmt.Errorf("lead-in and merge gap must not be negative")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Trimmer{detector: detector, config: config, logger: logger}, nil
}

// Trim returns a new buffer holding only the merged non-silent ranges of b
func (t *Trimmer) Trim(b *audio.Buffer) (*TrimResult, error) {
	loudness := b.DBFS()
	if b.Len() == 0 || math.IsInf(loudness, -1) {
		t.logger.Warn("Audio is completely silent", slog.Int64("duration_ms", b.DurationMs()))
		return nil, ErrAllSilent
	}

	threshold := loudness - t.config.MarginDB
	ranges := t.detector.DetectNonSilent(b, t.config.MinSilenceMs, threshold)
	if len(ranges) == 0 {
		t.logger.Warn("Audio is completely silent",
			slog.Int64("duration_ms", b.DurationMs()),
			slog.Float64("threshold_dbfs", threshold))
		return nil, ErrAllSilent
	}

	if first := ranges[0]; first.Start > t.config.LeadInMs {
		withLead := make([]interval.Interval, 0, len(ranges)+1)
		withLead = append(withLead, interval.Interval{Start: 0, End: first.Start})
		ranges = append(withLead, ranges...)
	}

	merged := interval.Merge(ranges, t.config.MergeGapMs)

	t.logger.Debug("Detected non-silent ranges",
		slog.Int("raw", len(ranges)),
		slog.Int("merged", len(merged)),
		slog.Float64("threshold_dbfs", threshold),
		slog.Any("ranges", merged))

	parts := make([]*audio.Buffer, 0, len(merged))
	for _, r := range merged {
		parts = append(parts, b.Slice(r.Start, r.End))
	}

	cleaned, err := audio.Concat(b.SampleRate(), parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to join speech ranges: %w", err)
	}

	t.logger.Info("Silences removed",
		slog.Int64("original_ms", b.DurationMs()),
		slog.Int64("trimmed_ms", cleaned.DurationMs()),
		slog.Int("ranges", len(merged)))

	return &TrimResult{Audio: cleaned, Ranges: merged, Threshold: threshold}, nil
}

// Config returns the trimming parameters
func (t *Trimmer) Config() TrimConfig {
	return t.config
}
