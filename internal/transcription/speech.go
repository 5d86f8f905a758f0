package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bonchardon-dev/audio-transcription/internal/audio"
)

// SpeechConfig configures the Google Cloud Speech backend
type SpeechConfig struct {
	CredentialsFile string // empty uses application default credentials
	LanguageCode    string // BCP-47, overrides the request language when set
	Model           string // recognition model, for example "latest_long"
	MaxRetries      int
	Timeout         time.Duration
}

// SpeechService transcribes chunks with Google Cloud Speech-to-Text
type SpeechService struct {
	client  *speech.Client
	config  SpeechConfig
	logger  *slog.Logger
	backoff time.Duration
}

// NewSpeechService creates a Speech-to-Text client
func NewSpeechService(ctx context.Context, config SpeechConfig, logger *slog.Logger) (*SpeechService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 4
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &SpeechService{
		client:  client,
		config:  config,
		logger:  logger,
		backoff: 750 * time.Millisecond,
	}, nil
}

// Transcribe sends the chunk inline as LINEAR16 and joins the top
// alternative of every result with newlines. The free-text prompt has no
// equivalent in this API and is ignored.
func (s *SpeechService) Transcribe(ctx context.Context, req Request) (string, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read chunk file: %w", err)
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return "", fmt.Errorf("speech: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	lrReq := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(info.SampleRate),
			AudioChannelCount:          int32(info.Channels),
			LanguageCode:               s.languageCode(req.Language),
			Model:                      s.config.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: data},
		},
	}

	resp, err := retryRecognize(ctx, s.config.MaxRetries, s.backoff, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, lrReq)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return "", serviceError(fmt.Errorf("speech longrunningrecognize: %w", err))
	}

	return joinResults(resp.GetResults()), nil
}

// Close closes the underlying gRPC connection
func (s *SpeechService) Close() error {
	return s.client.Close()
}

func (s *SpeechService) languageCode(requested string) string {
	if s.config.LanguageCode != "" {
		return s.config.LanguageCode
	}
	if requested == "" {
		return "en-US"
	}
	return requested
}

// retryRecognize retries fn on transient gRPC codes with capped exponential backoff
func retryRecognize(
	ctx context.Context,
	maxRetries int,
	backoff time.Duration,
	fn func() (*speechpb.LongRunningRecognizeResponse, error),
) (*speechpb.LongRunningRecognizeResponse, error) {
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

func joinResults(results []*speechpb.SpeechRecognitionResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}
