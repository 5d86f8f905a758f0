package diarize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
)

// Exporter writes diarized segments to disk as <run>/NNNN_<speaker>.wav
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter writing into dir, creating it if needed
func NewExporter(dir string, logger *slog.Logger) (*Exporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Exporter{dir: dir, logger: logger}, nil
}

// Export writes every non-empty segment into <dir>/<run> and returns the
// written paths in segment order. An empty run writes into dir itself.
func (e *Exporter) Export(run string, segments []Segment) ([]string, error) {
	dir := e.dir
	if run != "" {
		dir = filepath.Join(e.dir, sanitize(run))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	paths := make([]string, 0, len(segments))

	for i, seg := range segments {
		if seg.Audio == nil || seg.Audio.Len() == 0 {
			e.logger.Warn("Skipping empty segment", slog.Int("index", i), slog.String("speaker", seg.Speaker))
			continue
		}

		name := fmt.Sprintf("%04d_%s.wav", i, sanitize(seg.Speaker))
		path := filepath.Join(dir, name)

		if err := audio.WriteWAVFile(path, seg.Audio); err != nil {
			return paths, fmt.Errorf("failed to export segment %d: %w", i, err)
		}

		paths = append(paths, path)
		e.logger.Debug("Exported segment", slog.String("path", path))
	}

	e.logger.Info("Segments exported", slog.String("dir", dir), slog.Int("count", len(paths)))
	return paths, nil
}

// Dir returns the export directory
func (e *Exporter) Dir() string {
	return e.dir
}

func sanitize(label string) string {
	if label == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, label)
}
