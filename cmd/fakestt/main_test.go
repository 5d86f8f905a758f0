package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func multipartRequest(t *testing.T, format string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "chunk_1.wav")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("RIFF"))
	w.WriteField("model", "whisper-1")
	w.WriteField("response_format", format)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newTestServer(failEvery int64) *fakeServer {
	return &fakeServer{
		text:      "привіт",
		failEvery: failEvery,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestTranscribeHandlerFormats(t *testing.T) {
	s := newTestServer(0)

	rec := httptest.NewRecorder()
	s.transcribeHandler(rec, multipartRequest(t, "text"))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "привіт 1" {
		t.Errorf("Unexpected text response %d: %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.transcribeHandler(rec, multipartRequest(t, "json"))

	var resp transcriptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
	if resp.Text != "привіт 2" {
		t.Errorf("Expected 'привіт 2', got %q", resp.Text)
	}
}

func TestTranscribeHandlerInjectedFailure(t *testing.T) {
	s := newTestServer(2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.transcribeHandler(rec, multipartRequest(t, "text"))
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusBadGateway || codes[2] != http.StatusOK {
		t.Errorf("Expected every second request to fail, got %v", codes)
	}
}

func TestTranscribeHandlerRejectsGet(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(0).transcribeHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/audio/transcriptions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
