package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeChunkFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chunk_1_test.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfake"), 0o644); err != nil {
		t.Fatalf("Failed to write chunk file: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, endpoint string, retries int) *HTTPClient {
	t.Helper()

	client, err := NewHTTPClient(Config{
		Endpoint:     endpoint,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewHTTPClientValidation(t *testing.T) {
	if _, err := NewHTTPClient(Config{APIKey: "k"}); err == nil {
		t.Error("Expected error for empty endpoint")
	}

	if _, err := NewHTTPClient(Config{Endpoint: "http://localhost"}); err == nil {
		t.Error("Expected error for empty API key")
	}
}

func TestHTTPClientSendsMultipartForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Unexpected authorization header: %q", r.Header.Get("Authorization"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		expect := map[string]string{
			"model":           "whisper-1",
			"language":        "uk",
			"prompt":          "label speakers",
			"response_format": "text",
		}
		for key, want := range expect {
			if got := r.FormValue(key); got != want {
				t.Errorf("Field %s: expected %q, got %q", key, want, got)
			}
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("Missing file part: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "chunk_1_test.wav" || string(data) != "RIFF....WAVEfake" {
			t.Errorf("Unexpected file part %q: %q", header.Filename, data)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "Speaker_0: привіт\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	text, err := client.Transcribe(context.Background(), Request{
		Path:           writeChunkFile(t),
		Model:          "whisper-1",
		Language:       "uk",
		Prompt:         "label speakers",
		ResponseFormat: "text",
	})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "Speaker_0: привіт\n" {
		t.Errorf("Unexpected text: %q", text)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.SuccessRate != 100 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHTTPClientParsesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text": "hello there", "language": "uk"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	text, err := client.Transcribe(context.Background(), Request{Path: writeChunkFile(t), ResponseFormat: "json"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "hello there" {
		t.Errorf("Expected %q, got %q", "hello there", text)
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	text, err := client.Transcribe(context.Background(), Request{Path: writeChunkFile(t)})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "ok" {
		t.Errorf("Expected ok, got %q", text)
	}

	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	if client.GetStats().TotalRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", client.GetStats().TotalRetries)
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	_, err := client.Transcribe(context.Background(), Request{Path: writeChunkFile(t)})
	if !errors.Is(err, ErrService) {
		t.Fatalf("Expected ErrService, got %v", err)
	}

	var se *statusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Errorf("Expected wrapped 400 status error, got %v", err)
	}

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	if client.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", client.GetStats().FailedRequests)
	}
}

func TestHTTPClientMissingFile(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 0)

	if _, err := client.Transcribe(context.Background(), Request{Path: "/nonexistent/chunk.wav"}); err == nil {
		t.Error("Expected error for missing chunk file")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &statusError{Code: 502}, true},
		{"rate limited", &statusError{Code: 429}, true},
		{"unauthorized", &statusError{Code: 401}, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHTTPClientClose(t *testing.T) {
	client := newTestClient(t, "http://localhost", 0)
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
