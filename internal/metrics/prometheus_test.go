package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bonchardon-dev/audio-transcription/internal/transcription"
)

var _ transcription.Recorder = (*Metrics)(nil)

func TestRecordChunk(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordChunk(transcription.OutcomeSuccess, 1024*1024, 2*time.Second)
	m.RecordChunk(transcription.OutcomeSuccess, 512*1024, time.Second)
	m.RecordChunk(transcription.OutcomeOversized, 30*1024*1024, 0)

	if got := testutil.ToFloat64(m.ChunksProcessed.WithLabelValues(transcription.OutcomeSuccess)); got != 2 {
		t.Errorf("Expected 2 successful chunks, got %v", got)
	}

	if got := testutil.ToFloat64(m.ChunksProcessed.WithLabelValues(transcription.OutcomeOversized)); got != 1 {
		t.Errorf("Expected 1 oversized chunk, got %v", got)
	}
}

func TestStageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStage("trim", 150*time.Millisecond)
	m.RecordStageFailure("trim", "all_silent")
	m.RecordRun("failed")
	m.RecordAudio(10*time.Minute, 7*time.Minute)
	m.SetActiveJobs(3)

	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("trim", "all_silent")); got != 1 {
		t.Errorf("Expected 1 stage failure, got %v", got)
	}

	if got := testutil.ToFloat64(m.ActiveJobs); got != 3 {
		t.Errorf("Expected 3 active jobs, got %v", got)
	}

	if n := testutil.CollectAndCount(m.AudioDuration); n != 2 {
		t.Errorf("Expected 2 audio duration series, got %d", n)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry accepts its own set without duplicate registration panics
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
