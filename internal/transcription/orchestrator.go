package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
)

// Chunk outcomes reported to a Recorder
const (
	OutcomeSuccess   = "success"
	OutcomeOversized = "oversized"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
)

// Recorder observes per-chunk outcomes, typically for metrics
type Recorder interface {
	RecordChunk(outcome string, sizeBytes int64, elapsed time.Duration)
}

// OrchestratorConfig contains the fixed per-call parameters
type OrchestratorConfig struct {
	Model          string
	Language       string
	Prompt         string
	ResponseFormat string
	MaxConcurrent  int // 1 transcribes chunks sequentially
}

// DefaultOrchestratorConfig returns the standard request parameters
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Model:          DefaultModel,
		Language:       DefaultLanguage,
		Prompt:         DefaultPrompt,
		ResponseFormat: DefaultResponseFormat,
		MaxConcurrent:  1,
	}
}

// Fragment is the outcome of transcribing one chunk. Text is nil when the
// chunk failed or was skipped.
type Fragment struct {
	Index int     `json:"index"`
	Text  *string `json:"text"`
	Err   error   `json:"-"`
}

// Result is the assembled transcript of a run
type Result struct {
	Text       string     `json:"text"`
	Fragments  []Fragment `json:"fragments"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Empty      int        `json:"empty"`
	OutputPath string     `json:"output_path,omitempty"`
}

// Orchestrator drives per-chunk transcription and assembles the transcript
// in chunk order. A failing chunk never aborts its siblings.
type Orchestrator struct {
	service  Service
	chunker  *audio.Chunker
	config   OrchestratorConfig
	recorder Recorder
	logger   *slog.Logger
}

// NewOrchestrator creates a new transcription orchestrator
func NewOrchestrator(service Service, chunker *audio.Chunker, config OrchestratorConfig, logger *slog.Logger) (*Orchestrator, error) {
	if service == nil {
		return nil, fmt.Errorf("transcription service is required")
	}

	if chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.ResponseFormat == "" {
		config.ResponseFormat = DefaultResponseFormat
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		service: service,
		chunker: chunker,
		config:  config,
		logger:  logger,
	}, nil
}

// WithRecorder attaches an outcome recorder
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

// Run transcribes every chunk and joins the successful fragments in index
// order. When recordingPath is non-empty the transcript is written next to
// it. The returned error is only set for a cancelled context or a failed
// transcript write; per-chunk failures are reported in the fragments.
func (o *Orchestrator) Run(ctx context.Context, chunks []audio.Chunk, recordingPath string) (*Result, error) {
	fragments := make([]Fragment, len(chunks))

	var g errgroup.Group
	g.SetLimit(o.config.MaxConcurrent)

	for i, chunk := range chunks {
		g.Go(func() error {
			o.logger.Info("Transcribing chunk",
				slog.Int("index", chunk.Index),
				slog.Int("total", len(chunks)))

			fragments[i] = o.transcribeChunk(ctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Fragments: fragments}
	for _, f := range fragments {
		switch {
		case f.Text != nil:
			result.Succeeded++
		case f.Err != nil:
			result.Failed++
		default:
			result.Empty++
		}
	}
	result.Text = Assemble(fragments)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if recordingPath != "" {
		path, err := WriteTranscript(recordingPath, result.Text)
		if err != nil {
			return result, err
		}
		result.OutputPath = path
		o.logger.Info("Transcript saved", slog.String("path", path))
	}

	o.logger.Info("Transcription completed",
		slog.Int("chunks", len(chunks)),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed))

	return result, nil
}

// transcribeChunk encodes one chunk to its own temp file, screens its size,
// calls the service and always removes the file
func (o *Orchestrator) transcribeChunk(ctx context.Context, chunk audio.Chunk) Fragment {
	frag := Fragment{Index: chunk.Index}
	start := time.Now()
	logger := o.logger.With(slog.Int("chunk", chunk.Index))

	if err := ctx.Err(); err != nil {
		frag.Err = err
		o.record(OutcomeFailed, 0, start)
		return frag
	}

	enc, err := o.chunker.Materialize(chunk)
	if err != nil {
		logger.Error("Failed to encode chunk", slog.String("error", err.Error()))
		frag.Err = err
		o.record(OutcomeFailed, 0, start)
		return frag
	}
	defer func() {
		if err := enc.Release(); err != nil {
			logger.Warn("Failed to remove chunk file", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Chunk encoded", slog.String("size_mb", fmt.Sprintf("%.2f", enc.SizeMB())))

	if err := o.chunker.CheckSize(enc); err != nil {
		logger.Warn("Chunk skipped: exceeds size limit", slog.String("error", err.Error()))
		frag.Err = err
		o.record(OutcomeOversized, enc.Size, start)
		return frag
	}

	text, err := o.service.Transcribe(ctx, Request{
		Path:           enc.Path,
		Model:          o.config.Model,
		Language:       o.config.Language,
		Prompt:         o.config.Prompt,
		ResponseFormat: o.config.ResponseFormat,
	})
	if err != nil {
		logger.Error("Error transcribing chunk", slog.String("error", err.Error()))
		frag.Err = serviceError(err)
		o.record(OutcomeFailed, enc.Size, start)
		return frag
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		logger.Warn("Chunk returned no text")
		o.record(OutcomeEmpty, enc.Size, start)
		return frag
	}

	logger.Debug("Chunk transcribed", slog.Int("chars", len(trimmed)))
	frag.Text = &trimmed
	o.record(OutcomeSuccess, enc.Size, start)
	return frag
}

func (o *Orchestrator) record(outcome string, size int64, start time.Time) {
	if o.recorder != nil {
		o.recorder.RecordChunk(outcome, size, time.Since(start))
	}
}

// Assemble joins the non-nil fragments by index order, each trimmed of
// surrounding whitespace, separated by a single newline
func Assemble(fragments []Fragment) string {
	ordered := make([]Fragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	lines := make([]string, 0, len(ordered))
	for _, f := range ordered {
		if f.Text == nil {
			continue
		}
		if text := strings.TrimSpace(*f.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// TranscriptPath returns <dir>/<base>.txt for a recording path
func TranscriptPath(recordingPath string) string {
	ext := filepath.Ext(recordingPath)
	return strings.TrimSuffix(recordingPath, ext) + ".txt"
}

// WriteTranscript overwrites the transcript file next to the recording
func WriteTranscript(recordingPath, text string) (string, error) {
	path := TranscriptPath(recordingPath)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript %s: %w", path, err)
	}
	return path, nil
}

// Failures returns the errors of failed fragments, in index order
func (r *Result) Failures() []error {
	errs := make([]error, 0, r.Failed)
	for _, f := range r.Fragments {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("chunk %d: %w", f.Index, f.Err))
		}
	}
	return errs
}

// Err joins all fragment failures, or returns nil
func (r *Result) Err() error {
	return errors.Join(r.Failures()...)
}
