package diarize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
)

// SherpaConfig configures the sherpa-onnx offline diarization pipeline
type SherpaConfig struct {
	SegmentationModel   string  // pyannote segmentation ONNX model
	EmbeddingModel      string  // speaker embedding extractor ONNX model
	NumThreads          int
	ClusteringThreshold float32 // 0.0-1.0, lower means more speakers
	NumSpeakers         int     // -1 detects the count automatically
	MinDurationOn       float32 // seconds
	MinDurationOff      float32 // seconds
	Provider            string  // cpu, cuda, coreml or auto
}

// DefaultSherpaConfig returns sherpa-onnx defaults for the given model files
func DefaultSherpaConfig(segmentationModel, embeddingModel string) SherpaConfig {
	return SherpaConfig{
		SegmentationModel:   segmentationModel,
		EmbeddingModel:      embeddingModel,
		NumThreads:          4,
		ClusteringThreshold: 0.5,
		NumSpeakers:         -1,
		MinDurationOn:       0.3,
		MinDurationOff:      0.5,
		Provider:            "auto",
	}
}

// SherpaModel diarizes waveform files with sherpa-onnx
type SherpaModel struct {
	config   SherpaConfig
	diarizer *sherpa.OfflineSpeakerDiarization
	logger   *slog.Logger
	mu       sync.Mutex
}

func bestProvider() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	return "cpu"
}

// NewSherpaModel loads the segmentation and embedding models
func NewSherpaModel(config SherpaConfig, logger *slog.Logger) (*SherpaModel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(config.SegmentationModel); err != nil {
		return nil, fmt.Errorf("segmentation model not found: %w", err)
	}
	if _, err := os.Stat(config.EmbeddingModel); err != nil {
		return nil, fmt.Errorf("embedding model not found: %w", err)
	}

	provider := config.Provider
	if provider == "" || provider == "auto" {
		provider = bestProvider()
	}

	numSpeakers := config.NumSpeakers
	if numSpeakers == 0 {
		numSpeakers = -1
	}

	sherpaConfig := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: config.SegmentationModel,
			},
			NumThreads: config.NumThreads,
			Provider:   provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      config.EmbeddingModel,
			NumThreads: config.NumThreads,
			Provider:   provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: numSpeakers,
			Threshold:   config.ClusteringThreshold,
		},
		MinDurationOn:  config.MinDurationOn,
		MinDurationOff: config.MinDurationOff,
	}

	diarizer := sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
	if diarizer == nil && provider != "cpu" {
		logger.Warn("Diarization provider failed, falling back to CPU", slog.String("provider", provider))
		provider = "cpu"
		sherpaConfig.Segmentation.Provider = provider
		sherpaConfig.Embedding.Provider = provider
		diarizer = sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
	}
	if diarizer == nil {
		return nil, fmt.Errorf("failed to create sherpa-onnx diarizer")
	}

	config.Provider = provider
	logger.Info("Diarization model loaded",
		slog.String("provider", provider),
		slog.String("segmentation", config.SegmentationModel),
		slog.String("embedding", config.EmbeddingModel))

	return &SherpaModel{config: config, diarizer: diarizer, logger: logger}, nil
}

// Diarize reads the waveform file and returns the detected speaker turns.
// The file must match the model sample rate (16 kHz).
func (m *SherpaModel) Diarize(ctx context.Context, wavPath string) ([]Turn, error) {
	buf, err := audio.DecodeWAVFile(wavPath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diarizer == nil {
		return nil, fmt.Errorf("%w: diarizer is closed", ErrModel)
	}

	if rate := m.diarizer.SampleRate(); buf.SampleRate() != rate {
		return nil, fmt.Errorf("%w: diarizer expects %d Hz audio, got %d Hz", ErrModel, rate, buf.SampleRate())
	}

	if buf.Len() == 0 {
		return nil, nil
	}

	segments := m.diarizer.Process(buf.Float32())

	turns := make([]Turn, 0, len(segments))
	for _, seg := range segments {
		turns = append(turns, Turn{
			Start:   float64(seg.Start),
			End:     float64(seg.End),
			Speaker: fmt.Sprintf("SPEAKER_%02d", seg.Speaker),
		})
	}

	m.logger.Info("Diarization completed",
		slog.String("path", wavPath),
		slog.Int("turns", len(turns)))

	return turns, nil
}

// Provider returns the ONNX provider in use
func (m *SherpaModel) Provider() string {
	return m.config.Provider
}

// Close releases the native diarizer
func (m *SherpaModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(m.diarizer)
		m.diarizer = nil
	}
	return nil
}
