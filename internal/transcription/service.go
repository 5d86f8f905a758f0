package transcription

import (
	"context"
	"errors"
	"fmt"
)

// Default request parameters
const (
	DefaultModel          = "whisper-1"
	DefaultLanguage       = "uk"
	DefaultResponseFormat = "text"
	DefaultPrompt         = "Це аудіо-файл розмови кількох людей українською (можливий суржик). " +
		"Будь ласка, транскрибуй текст і познач кожного мовця у форматі Speaker_0:, Speaker_1:, тощо. " +
		"Пиши лише репліки, без додаткових описів чи перекладів."
)

// ErrService marks a failed transcription call
var ErrService = errors.New("transcription service failure")

// Request describes one transcription call for an encoded chunk on disk
type Request struct {
	Path           string `json:"path"`
	Model          string `json:"model,omitempty"`
	Language       string `json:"language,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // "text" or "json"
}

// Service is an external speech-to-text backend
type Service interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// serviceError wraps err so that errors.Is(err, ErrService) holds
func serviceError(err error) error {
	if err == nil || errors.Is(err, ErrService) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrService, err)
}
