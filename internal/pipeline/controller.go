package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
	"github.com/bonchardon-dev/audio-transcription/internal/diarize"
	"github.com/bonchardon-dev/audio-transcription/internal/observe"
	"github.com/bonchardon-dev/audio-transcription/internal/transcription"
	"github.com/bonchardon-dev/audio-transcription/internal/vad"
)

// Converter normalizes a recording to a mono WAV file written into outDir
type Converter interface {
	Convert(ctx context.Context, src, outDir string) (string, error)
}

// LoadFunc decodes a waveform file into memory
type LoadFunc func(path string) (*audio.Buffer, error)

// Trimmer removes silence from a buffer
type Trimmer interface {
	Trim(b *audio.Buffer) (*vad.TrimResult, error)
}

// SegmentExporter persists the diarized segments of one run
type SegmentExporter interface {
	Export(run string, segments []diarize.Segment) ([]string, error)
}

// Transcriber transcribes chunks and writes the transcript next to the recording
type Transcriber interface {
	Run(ctx context.Context, chunks []audio.Chunk, recordingPath string) (*transcription.Result, error)
}

// StageRecorder observes stage timings and run outcomes
type StageRecorder interface {
	RecordStage(stage string, elapsed time.Duration)
	RecordStageFailure(stage, kind string)
	RecordRun(outcome string)
	RecordAudio(original, trimmed time.Duration)
	RecordSegments(count int)
}

// Dependencies are the collaborators composed into a Controller. Diarizer,
// Exporter and Recorder are optional.
type Dependencies struct {
	Converter   Converter
	Load        LoadFunc
	Trimmer     Trimmer
	Diarizer    diarize.Model
	Adapter     *diarize.Adapter
	Exporter    SegmentExporter
	Chunker     *audio.Chunker
	Transcriber Transcriber
	Recorder    StageRecorder
}

// Config contains controller configuration
type Config struct {
	// WorkDir holds one <run_id> directory per run for the converted and
	// trimmed waveforms; it is removed when the run ends
	WorkDir string
}

// Result is the outcome of a successful run. Segments carry bounds and
// speaker labels only.
type Result struct {
	RunID            string                `json:"run_id"`
	RecordingPath    string                `json:"recording_path"`
	OriginalDuration time.Duration         `json:"original_duration"`
	TrimmedDuration  time.Duration         `json:"trimmed_duration"`
	Segments         []diarize.Segment     `json:"segments,omitempty"`
	SegmentFiles     []string              `json:"segment_files,omitempty"`
	Chunks           int                   `json:"chunks"`
	Transcript       *transcription.Result `json:"transcript"`
}

// stageFunc advances a run by one stage
type stageFunc func(ctx context.Context, r *run) error

type stage struct {
	name Stage
	fn   stageFunc
}

// run carries intermediate products between stages
type run struct {
	id        string
	recording string
	dir       string
	wavPath   string
	original  *audio.Buffer
	trimmed   *vad.TrimResult
	segments  []diarize.Segment
	files     []string
	chunks    []audio.Chunk
	result    *transcription.Result
	logger    *slog.Logger
}

// Controller sequences convert, load, trim, diarize/chunk and transcribe.
// The first failing stage aborts the run.
type Controller struct {
	deps   Dependencies
	config Config
	stages []stage
	logger *slog.Logger
}

// NewController validates the collaborators and composes the stages
func NewController(deps Dependencies, config Config, logger *slog.Logger) (*Controller, error) {
	if deps.Converter == nil {
		return nil, fmt.Errorf("converter is required")
	}

	if deps.Trimmer == nil {
		return nil, fmt.Errorf("trimmer is required")
	}

	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}

	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}

	if deps.Load == nil {
		deps.Load = audio.Load
	}

	if logger == nil {
		logger = slog.Default()
	}

	if deps.Diarizer != nil && deps.Adapter == nil {
		deps.Adapter = diarize.NewAdapter(logger)
	}

	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}

	c := &Controller{deps: deps, config: config, logger: logger}
	c.stages = []stage{
		{StageConvert, c.convert},
		{StageLoad, c.load},
		{StageTrim, c.trim},
		{StageDiarize, c.diarizeAndChunk},
		{StageTranscribe, c.transcribe},
	}

	return c, nil
}

// Run processes one recording from conversion to the written transcript.
// On failure it returns a *StageError and no result.
func (c *Controller) Run(ctx context.Context, recordingPath string) (*Result, error) {
	r := &run{id: uuid.NewString(), recording: recordingPath}
	r.dir = c.RunDir(r.id)
	defer c.cleanup(r)

	ctx, span := observe.StartSpan(ctx, "pipeline.run",
		attribute.String("run_id", r.id),
		attribute.String("recording", recordingPath))

	r.logger = observe.Logger(ctx, c.logger).With(slog.String("run_id", r.id))
	r.logger.Info("Pipeline started", slog.String("recording", recordingPath))

	start := time.Now()
	for _, s := range c.stages {
		if err := c.runStage(ctx, s, r); err != nil {
			r.logger.Error("Pipeline failed",
				slog.String("stage", string(s.name)),
				slog.String("error", err.Error()))
			c.recordRun("failed")
			observe.EndSpan(span, err)
			return nil, err
		}
	}

	c.recordRun("success")
	observe.EndSpan(span, nil)

	result := &Result{
		RunID:            r.id,
		RecordingPath:    recordingPath,
		OriginalDuration: r.original.Duration(),
		TrimmedDuration:  r.trimmed.Audio.Duration(),
		Segments:         diarize.WithoutAudio(r.segments),
		SegmentFiles:     r.files,
		Chunks:           len(r.chunks),
		Transcript:       r.result,
	}

	r.logger.Info("Pipeline completed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Duration("original_duration", result.OriginalDuration),
		slog.Duration("trimmed_duration", result.TrimmedDuration),
		slog.Int("segments", len(result.Segments)),
		slog.Int("chunks", result.Chunks),
		slog.String("transcript", r.result.OutputPath))

	return result, nil
}

func (c *Controller) runStage(ctx context.Context, s stage, r *run) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: s.name, Kind: KindCanceled, Err: err}
	}

	ctx, span := observe.StartSpan(ctx, "pipeline."+string(s.name))
	start := time.Now()

	err := s.fn(ctx, r)

	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordStage(string(s.name), time.Since(start))
	}

	var stageErr *StageError
	if err != nil && !errors.As(err, &stageErr) {
		stageErr = &StageError{Stage: s.name, Kind: KindInternal, Err: err}
		err = stageErr
	}

	if stageErr != nil && c.deps.Recorder != nil {
		c.deps.Recorder.RecordStageFailure(string(stageErr.Stage), string(stageErr.Kind))
	}

	observe.EndSpan(span, err)
	return err
}

func (c *Controller) convert(ctx context.Context, r *run) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return &StageError{Stage: StageConvert, Kind: KindConversion, Err: err}
	}

	wavPath, err := c.deps.Converter.Convert(ctx, r.recording, r.dir)
	if err != nil {
		return &StageError{Stage: StageConvert, Kind: KindConversion, Err: err}
	}

	r.wavPath = wavPath
	return nil
}

func (c *Controller) load(ctx context.Context, r *run) error {
	buf, err := c.deps.Load(r.wavPath)
	if err != nil {
		return &StageError{Stage: StageLoad, Kind: KindLoad, Err: err}
	}

	if buf == nil || buf.SampleRate() <= 0 {
		return &StageError{Stage: StageLoad, Kind: KindLoad,
			Err: fmt.Errorf("%w: %s has no valid sample rate", audio.ErrInvalidWAV, r.wavPath)}
	}

	r.original = buf
	r.logger.Info("Recording loaded",
		slog.String("path", r.wavPath),
		slog.Duration("duration", buf.Duration()),
		slog.Int("sample_rate", buf.SampleRate()))
	return nil
}

func (c *Controller) trim(ctx context.Context, r *run) error {
	result, err := c.deps.Trimmer.Trim(r.original)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, vad.ErrAllSilent) {
			kind = KindAllSilent
		}
		return &StageError{Stage: StageTrim, Kind: kind, Err: err}
	}

	r.trimmed = result
	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordAudio(r.original.Duration(), result.Audio.Duration())
	}

	r.logger.Info("Silence trimmed",
		slog.Duration("original", r.original.Duration()),
		slog.Duration("trimmed", result.Audio.Duration()),
		slog.Int("ranges", len(result.Ranges)))
	return nil
}

// diarizeAndChunk labels speaker turns on the trimmed audio, when a model is
// configured, and partitions the trimmed audio into chunks
func (c *Controller) diarizeAndChunk(ctx context.Context, r *run) error {
	if c.deps.Diarizer != nil {
		if err := c.diarize(ctx, r); err != nil {
			return err
		}
	}

	r.chunks = c.deps.Chunker.Split(r.trimmed.Audio)
	r.logger.Info("Audio chunked",
		slog.Int("chunks", len(r.chunks)),
		slog.Int64("max_bytes", c.deps.Chunker.MaxBytes()))
	return nil
}

func (c *Controller) diarize(ctx context.Context, r *run) error {
	path := c.TrimmedPath(r.id, r.recording)
	if err := audio.WriteWAVFile(path, r.trimmed.Audio); err != nil {
		return &StageError{Stage: StageDiarize, Kind: KindDiarization, Err: err}
	}

	turns, err := c.deps.Diarizer.Diarize(ctx, path)
	if err != nil {
		return &StageError{Stage: StageDiarize, Kind: KindDiarization, Err: err}
	}

	r.segments = c.deps.Adapter.Adapt(turns, r.trimmed.Audio)
	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordSegments(len(r.segments))
	}

	r.logger.Info("Diarization completed",
		slog.Int("segments", len(r.segments)),
		slog.Any("speakers", diarize.Speakers(r.segments)))

	if c.deps.Exporter != nil {
		files, err := c.deps.Exporter.Export(r.id, r.segments)
		if err != nil {
			r.logger.Warn("Segment export failed", slog.String("error", err.Error()))
		}
		r.files = files
	}

	return nil
}

func (c *Controller) transcribe(ctx context.Context, r *run) error {
	result, err := c.deps.Transcriber.Run(ctx, r.chunks, r.recording)
	if err != nil {
		kind := KindTranscription
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = KindCanceled
		}
		return &StageError{Stage: StageTranscribe, Kind: kind, Err: err}
	}

	if result.Failed > 0 {
		r.logger.Warn("Some chunks were not transcribed",
			slog.Int("failed", result.Failed),
			slog.String("errors", result.Err().Error()))
	}

	r.result = result
	return nil
}

// RunDir returns <work_dir>/<run_id>, the scratch directory of one run
func (c *Controller) RunDir(runID string) string {
	return filepath.Join(c.config.WorkDir, runID)
}

// TrimmedPath returns <work_dir>/<run_id>/<base>_trimmed.wav for a recording
func (c *Controller) TrimmedPath(runID, recordingPath string) string {
	base := strings.TrimSuffix(filepath.Base(recordingPath), filepath.Ext(recordingPath))
	return filepath.Join(c.RunDir(runID), base+"_trimmed.wav")
}

// cleanup removes the run's intermediates and releases its audio
func (c *Controller) cleanup(r *run) {
	if err := os.RemoveAll(r.dir); err != nil {
		r.logger.Warn("Failed to remove run directory",
			slog.String("dir", r.dir),
			slog.String("error", err.Error()))
	}

	r.original = nil
	r.trimmed = nil
	r.segments = nil
	r.chunks = nil
}

func (c *Controller) recordRun(outcome string) {
	if c.deps.Recorder != nil {
		c.deps.Recorder.RecordRun(outcome)
	}
}
