package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Convert       ConvertConfig       `yaml:"convert"`
	Silence       SilenceConfig       `yaml:"silence"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ConvertConfig contains format converter configuration
type ConvertConfig struct {
	FFmpegPath    string   `yaml:"ffmpeg_path"`
	FallbackPaths []string `yaml:"fallback_paths"`
	SampleRate    int      `yaml:"sample_rate"`
	WorkDir       string   `yaml:"work_dir"`
	Timeout       int      `yaml:"timeout"` // seconds
}

// SilenceConfig contains silence trimming parameters
type SilenceConfig struct {
	MarginDB     float64 `yaml:"margin_db"`
	MinSilenceMs int64   `yaml:"min_silence_ms"`
	LeadInMs     int64   `yaml:"lead_in_ms"`
	MergeGapMs   int64   `yaml:"merge_gap_ms"`
	SeekStepMs   int64   `yaml:"seek_step_ms"`
}

// DiarizationConfig selects and configures the speaker diarization backend
type DiarizationConfig struct {
	Backend   string        `yaml:"backend"` // none, sherpa or command
	Sherpa    SherpaConfig  `yaml:"sherpa"`
	Command   CommandConfig `yaml:"command"`
	ExportDir string        `yaml:"export_dir"` // empty disables segment export
}

// SherpaConfig contains sherpa-onnx model configuration
type SherpaConfig struct {
	SegmentationModel string  `yaml:"segmentation_model"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	NumThreads        int     `yaml:"num_threads"`
	Provider          string  `yaml:"provider"`
	NumSpeakers       int     `yaml:"num_speakers"` // 0 = auto
	Threshold         float32 `yaml:"threshold"`
}

// CommandConfig contains external diarization program configuration
type CommandConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// ChunkingConfig contains chunking parameters
type ChunkingConfig struct {
	DurationMs int64  `yaml:"duration_ms"`
	MaxBytes   int64  `yaml:"max_bytes"`
	TempDir    string `yaml:"temp_dir"`
}

// TranscriptionConfig contains transcription backend configuration
type TranscriptionConfig struct {
	Backend         string `yaml:"backend"` // http, openai or google
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	Prompt          string `yaml:"prompt"`
	ResponseFormat  string `yaml:"response_format"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxRetries      int    `yaml:"max_retries"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	CredentialsFile string `yaml:"credentials_file"`
	LanguageCode    string `yaml:"language_code"` // google only, e.g. uk-UA
}

// HTTPConfig contains serve mode HTTP API configuration
type HTTPConfig struct {
	Port      int    `yaml:"port"`
	Address   string `yaml:"address"`
	Enabled   bool   `yaml:"enabled"`
	Retention int    `yaml:"retention"` // seconds a finished job is kept
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or none
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Convert: ConvertConfig{
			FallbackPaths: []string{"/usr/local/bin/ffmpeg", "/opt/homebrew/bin/ffmpeg", "/usr/bin/ffmpeg"},
			SampleRate:    16000,
			WorkDir:       os.TempDir(),
			Timeout:       600,
		},
		Silence: SilenceConfig{
			MarginDB:     14,
			MinSilenceMs: 400,
			LeadInMs:     300,
			MergeGapMs:   250,
			SeekStepMs:   1,
		},
		Diarization: DiarizationConfig{
			Backend: "none",
			Sherpa: SherpaConfig{
				NumThreads: 4,
				Provider:   "cpu",
				Threshold:  0.5,
			},
		},
		Chunking: ChunkingConfig{
			DurationMs: 4 * 60 * 1000,
			MaxBytes:   25 * 1024 * 1024,
		},
		Transcription: TranscriptionConfig{
			Backend:        "openai",
			Endpoint:       "https://api.openai.com/v1/audio/transcriptions",
			Model:          "whisper-1",
			Language:       "uk",
			ResponseFormat: "text",
			Timeout:        120,
			MaxRetries:     3,
			MaxConcurrent:  1,
		},
		HTTP: HTTPConfig{
			Port:      8080,
			Address:   "0.0.0.0",
			Retention: 3600,
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides secrets and tool locations from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("TRANSCRIPTION_API_KEY"); v != "" {
		c.Transcription.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Transcription.APIKey == "" {
		c.Transcription.APIKey = v
	}

	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.Convert.FFmpegPath = v
	}

	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Transcription.CredentialsFile == "" {
		c.Transcription.CredentialsFile = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Convert.Validate(); err != nil {
		return fmt.Errorf("convert config: %w", err)
	}

	if err := c.Silence.Validate(); err != nil {
		return fmt.Errorf("silence config: %w", err)
	}

	if err := c.Diarization.Validate(); err != nil {
		return fmt.Errorf("diarization config: %w", err)
	}

	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates converter configuration
func (cc *ConvertConfig) Validate() error {
	if cc.SampleRate < 8000 || cc.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", cc.SampleRate)
	}

	if cc.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}

	if cc.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", cc.Timeout)
	}

	return nil
}

// Validate validates silence trimming configuration
func (s *SilenceConfig) Validate() error {
	if s.MarginDB < 0 {
		return fmt.Errorf("margin_db cannot be negative, got %f", s.MarginDB)
	}

	if s.MinSilenceMs < 1 {
		return fmt.Errorf("min_silence_ms must be at least 1, got %d", s.MinSilenceMs)
	}

	if s.LeadInMs < 0 {
		return fmt.Errorf("lead_in_ms cannot be negative, got %d", s.LeadInMs)
	}

	if s.MergeGapMs < 0 {
		return fmt.Errorf("merge_gap_ms cannot be negative, got %d", s.MergeGapMs)
	}

	if s.SeekStepMs < 1 {
		return fmt.Errorf("seek_step_ms must be at least 1, got %d", s.SeekStepMs)
	}

	return nil
}

// Validate validates diarization configuration
func (d *DiarizationConfig) Validate() error {
	switch d.Backend {
	case "none", "":
	case "sherpa":
		if d.Sherpa.SegmentationModel == "" || d.Sherpa.EmbeddingModel == "" {
			return fmt.Errorf("sherpa backend requires segmentation_model and embedding_model")
		}
		if d.Sherpa.NumThreads < 1 {
			return fmt.Errorf("sherpa num_threads must be at least 1, got %d", d.Sherpa.NumThreads)
		}
		if d.Sherpa.NumSpeakers < 0 {
			return fmt.Errorf("sherpa num_speakers cannot be negative, got %d", d.Sherpa.NumSpeakers)
		}
		if d.Sherpa.Threshold <= 0 || d.Sherpa.Threshold >= 1 {
			return fmt.Errorf("sherpa threshold must be between 0 and 1 (exclusive), got %f", d.Sherpa.Threshold)
		}
	case "command":
		if d.Command.Path == "" {
			return fmt.Errorf("command backend requires command.path")
		}
	default:
		return fmt.Errorf("backend must be one of [none, sherpa, command], got '%s'", d.Backend)
	}

	return nil
}

// Enabled reports whether a diarization backend is configured
func (d *DiarizationConfig) Enabled() bool {
	return d.Backend != "" && d.Backend != "none"
}

// Validate validates chunking configuration
func (ch *ChunkingConfig) Validate() error {
	if ch.DurationMs < 1000 {
		return fmt.Errorf("duration_ms must be at least 1000, got %d", ch.DurationMs)
	}

	if ch.MaxBytes < 1024 {
		return fmt.Errorf("max_bytes must be at least 1024, got %d", ch.MaxBytes)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty")
		}
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty")
		}
	case "openai":
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty (set OPENAI_API_KEY)")
		}
	case "google":
	default:
		return fmt.Errorf("backend must be one of [http, openai, google], got '%s'", t.Backend)
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.ResponseFormat] {
		return fmt.Errorf("response_format must be 'json' or 'text', got '%s'", t.ResponseFormat)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", h.Retention)
	}

	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	validExporters := map[string]bool{"stdout": true, "none": true, "": true}
	if !validExporters[tc.Exporter] {
		return fmt.Errorf("exporter must be 'stdout' or 'none', got '%s'", tc.Exporter)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path
	return nil
}

// GetTimeoutDuration returns the converter timeout as a time.Duration
func (cc *ConvertConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(cc.Timeout) * time.Second
}

// GetDuration returns the chunk duration as a time.Duration
func (ch *ChunkingConfig) GetDuration() time.Duration {
	return time.Duration(ch.DurationMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetentionDuration returns the finished job retention as a time.Duration
func (h *HTTPConfig) GetRetentionDuration() time.Duration {
	return time.Duration(h.Retention) * time.Second
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "[redacted]"
	}
	return out
}
