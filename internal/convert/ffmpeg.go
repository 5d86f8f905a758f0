package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSampleRate is the output rate expected by the diarization models
const DefaultSampleRate = 16000

var (
	// ErrToolNotFound is returned when no converter executable can be located
	ErrToolNotFound = errors.New("ffmpeg not found")

	// ErrConversion is returned when the converter fails or produces no output
	ErrConversion = errors.New("conversion failed")
)

// Runner executes an external program and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Config contains converter configuration
type Config struct {
	Tool          string   // Configured executable, resolved on first Convert
	FallbackPaths []string // Tried after Tool and PATH, see ResolveTool
	SampleRate    int
	WorkDir       string // Used when Convert gets no output directory
	Timeout       time.Duration
}

// FFmpeg converts recordings of any container format to mono PCM-16 WAV
type FFmpeg struct {
	config Config
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	resolved string
}

// ResolveTool locates the converter executable. The configured value is
// tried first, then "ffmpeg" on PATH, then each fallback location.
func ResolveTool(configured string, fallbacks ...string) (string, error) {
	candidates := make([]string, 0, len(fallbacks)+2)
	if configured != "" {
		candidates = append(candidates, configured)
	}
	candidates = append(candidates, "ffmpeg")
	candidates = append(candidates, fallbacks...)

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w in PATH or fallback locations %v", ErrToolNotFound, fallbacks)
}

// NewFFmpeg creates a converter. The executable is located lazily so a
// missing tool surfaces as a Convert error.
func NewFFmpeg(config Config, logger *slog.Logger) (*FFmpeg, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}

	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpeg{config: config, runner: execRunner{}, logger: logger}, nil
}

// WithRunner replaces the process runner
func (f *FFmpeg) WithRunner(r Runner) *FFmpeg {
	f.runner = r
	return f
}

// OutputPath returns the waveform path Convert writes for src into dir.
// An empty dir means the configured work directory.
func (f *FFmpeg) OutputPath(src, dir string) string {
	if dir == "" {
		dir = f.config.WorkDir
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	out := filepath.Join(dir, base+".wav")

	if abs, err := filepath.Abs(src); err == nil {
		if absOut, err := filepath.Abs(out); err == nil && abs == absOut {
			out = filepath.Join(dir, base+"_mono.wav")
		}
	}
	return out
}

// Convert runs ffmpeg -y -i src -ac 1 -ar <rate> -f wav <out> and returns
// the output path inside outDir. A missing executable is ErrToolNotFound;
// a non-zero exit or a missing output file is ErrConversion.
func (f *FFmpeg) Convert(ctx context.Context, src, outDir string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: source %s: %w", ErrConversion, src, err)
	}

	tool, err := f.resolve()
	if err != nil {
		return "", err
	}

	out := f.OutputPath(src, outDir)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir: %w", ErrConversion, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	f.logger.Info("Using ffmpeg", slog.String("path", tool))

	start := time.Now()
	output, err := f.runner.Run(ctx, tool,
		"-y", "-i", src,
		"-ac", "1", "-ar", strconv.Itoa(f.config.SampleRate),
		"-f", "wav",
		out,
	)
	if err != nil {
		return "", fmt.Errorf("%w: ffmpeg: %w: %s", ErrConversion, err, tail(output, 512))
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("%w: ffmpeg produced no output at %s", ErrConversion, out)
	}

	f.logger.Info("Conversion completed",
		slog.String("source", src),
		slog.String("output", out),
		slog.Duration("elapsed", time.Since(start)))

	return out, nil
}

// Tool returns the resolved executable path, or the configured value
// before the first successful resolution
func (f *FFmpeg) Tool() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved != "" {
		return f.resolved
	}
	return f.config.Tool
}

// resolve locates the executable once and caches a successful result
func (f *FFmpeg) resolve() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved != "" {
		return f.resolved, nil
	}

	tool, err := ResolveTool(f.config.Tool, f.config.FallbackPaths...)
	if err != nil {
		return "", err
	}

	f.resolved = tool
	return tool, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
