package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcriber"

// Metrics contains all Prometheus metrics for the transcription pipeline
type Metrics struct {
	// Pipeline metrics
	PipelineRuns     *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	AudioDuration    *prometheus.HistogramVec
	SegmentsDetected prometheus.Histogram

	// Chunk transcription metrics
	ChunksProcessed       *prometheus.CounterVec
	ChunkSize             prometheus.Histogram
	TranscriptionDuration prometheus.Histogram

	// Serve mode metrics
	ActiveJobs prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of terminal stage failures",
		}, []string{"stage", "kind"}),
		AudioDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_duration_seconds",
			Help:      "Duration of recordings before and after silence trimming",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"kind"}),
		SegmentsDetected: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diarization_segments",
			Help:      "Number of speaker segments per recording",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		ChunksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Total number of chunks by transcription outcome",
		}, []string{"outcome"}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_size_bytes",
			Help:      "Encoded size of audio chunks",
			Buckets:   prometheus.ExponentialBuckets(256*1024, 2, 8), // 256KB to 32MB
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of per-chunk transcription requests",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently running in serve mode",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRun increments the pipeline runs counter for outcome
func (m *Metrics) RecordRun(outcome string) {
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordStage records the duration of a completed or failed stage
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordStageFailure increments the failure counter for a stage
func (m *Metrics) RecordStageFailure(stage, kind string) {
	m.StageFailures.WithLabelValues(stage, kind).Inc()
}

// RecordAudio records recording durations before and after trimming
func (m *Metrics) RecordAudio(original, trimmed time.Duration) {
	m.AudioDuration.WithLabelValues("original").Observe(original.Seconds())
	m.AudioDuration.WithLabelValues("trimmed").Observe(trimmed.Seconds())
}

// RecordSegments records the number of diarized segments
func (m *Metrics) RecordSegments(count int) {
	m.SegmentsDetected.Observe(float64(count))
}

// RecordChunk records one chunk transcription attempt
func (m *Metrics) RecordChunk(outcome string, sizeBytes int64, elapsed time.Duration) {
	m.ChunksProcessed.WithLabelValues(outcome).Inc()
	if sizeBytes > 0 {
		m.ChunkSize.Observe(float64(sizeBytes))
	}
	if elapsed > 0 {
		m.TranscriptionDuration.Observe(elapsed.Seconds())
	}
}

// SetActiveJobs sets the current number of running jobs
func (m *Metrics) SetActiveJobs(count int) {
	m.ActiveJobs.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
