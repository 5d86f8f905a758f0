package diarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
)

// ErrModel is returned when a diarization model fails to run
var ErrModel = errors.New("diarization model failed")

// Turn is one speaker turn as emitted by a diarization model.
// Boundaries are fractional seconds; emission order is not guaranteed
// to be chronological.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Segment is a diarized speaker turn with its own copy of the audio
type Segment struct {
	Start   int64         `json:"start_ms"`
	End     int64         `json:"end_ms"`
	Speaker string        `json:"speaker"`
	Audio   *audio.Buffer `json:"-"`
}

// DurationMs returns the segment length in milliseconds
func (s Segment) DurationMs() int64 {
	return s.End - s.Start
}

func (s Segment) String() string {
	return fmt.Sprintf("%s(%d,%d)", s.Speaker, s.Start, s.End)
}

// Model is a speaker diarization backend operating on a waveform file
type Model interface {
	Diarize(ctx context.Context, wavPath string) ([]Turn, error)
}

// Adapter turns unordered model output into a time-ordered segment list
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates a new turn adapter
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Adapt slices every turn out of buf and returns the segments sorted by
// start time. Turns with identical starts keep their emission order.
// Every turn yields exactly one segment; inverted bounds are swapped and
// both bounds are clamped to [0, buf.DurationMs()], so a turn lying past
// the end of buf yields a zero-length segment.
func (a *Adapter) Adapt(turns []Turn, buf *audio.Buffer) []Segment {
	segments := make([]Segment, 0, len(turns))
	limit := buf.DurationMs()

	for _, turn := range turns {
		startMs := int64(turn.Start * 1000)
		endMs := int64(turn.End * 1000)
		if endMs < startMs {
			startMs, endMs = endMs, startMs
		}
		startMs = clampMs(startMs, limit)
		endMs = clampMs(endMs, limit)

		segments = append(segments, Segment{
			Start:   startMs,
			End:     endMs,
			Speaker: turn.Speaker,
			Audio:   buf.Slice(startMs, endMs),
		})

		a.logger.Debug("Added segment",
			slog.String("speaker", turn.Speaker),
			slog.Int64("start_ms", startMs),
			slog.Int64("end_ms", endMs))
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	return segments
}

func clampMs(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// WithoutAudio returns copies of segments that carry only their bounds and
// speaker labels
func WithoutAudio(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Audio = nil
		out[i] = s
	}
	return out
}

// Speakers returns the distinct speaker labels in order of first appearance
func Speakers(segments []Segment) []string {
	seen := make(map[string]struct{}, len(segments))
	speakers := make([]string, 0)
	for _, s := range segments {
		if _, ok := seen[s.Speaker]; ok {
			continue
		}
		seen[s.Speaker] = struct{}{}
		speakers = append(speakers, s.Speaker)
	}
	return speakers
}

// Noop is a model that reports no speaker turns
type Noop struct{}

// Diarize returns no turns
func (Noop) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	return nil, ctx.Err()
}
