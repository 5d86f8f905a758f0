package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the OpenAI SDK backend
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // empty uses the public API
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIService transcribes chunks through the OpenAI audio API
type OpenAIService struct {
	client oai.Client
	logger *slog.Logger
}

// NewOpenAIService constructs a new OpenAI transcription backend
func NewOpenAIService(config OpenAIConfig, logger *slog.Logger) (*OpenAIService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: config.Timeout,
		}))
	}
	if config.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(config.MaxRetries))
	}

	return &OpenAIService{client: oai.NewClient(reqOpts...), logger: logger}, nil
}

// Transcribe uploads the chunk file and returns the transcript text.
// The SDK always requests a JSON body so the text can be decoded reliably;
// the request's response format does not change the returned text.
func (s *OpenAIService) Transcribe(ctx context.Context, req Request) (string, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open chunk file: %w", err)
	}
	defer f.Close()

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(f, filepath.Base(req.Path), "audio/wav"),
		Model:          oai.AudioModel(model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	start := time.Now()
	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", serviceError(fmt.Errorf("openai: transcribe %s: %w", filepath.Base(req.Path), err))
	}

	s.logger.Debug("OpenAI transcription completed",
		slog.String("file", filepath.Base(req.Path)),
		slog.Duration("elapsed", time.Since(start)))

	return resp.Text, nil
}
