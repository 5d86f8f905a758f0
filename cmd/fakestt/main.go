// Command fakestt serves a local OpenAI-compatible transcription endpoint
// for manual end-to-end runs of the http backend.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

type fakeServer struct {
	text      string
	delay     time.Duration
	failEvery int64
	requests  atomic.Int64
	logger    *slog.Logger
}

func (s *fakeServer) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := s.requests.Add(1)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	format := r.FormValue("response_format")
	language := r.FormValue("language")

	s.logger.Info("Transcription request received",
		slog.Int64("request", n),
		slog.String("filename", header.Filename),
		slog.Int64("size", size),
		slog.String("model", r.FormValue("model")),
		slog.String("language", language),
		slog.String("response_format", format),
		slog.Int("prompt_length", len(r.FormValue("prompt"))),
	)

	time.Sleep(s.delay)

	if s.failEvery > 0 && n%s.failEvery == 0 {
		s.logger.Warn("Injected failure", slog.Int64("request", n))
		http.Error(w, "injected failure", http.StatusBadGateway)
		return
	}

	text := fmt.Sprintf("%s %d", s.text, n)

	if format == "json" || format == "verbose_json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(transcriptionResponse{
			Text:     text,
			Language: language,
			Duration: s.delay.Seconds(),
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, text)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	text := flag.String("text", "Це тестова транскрипція аудіо фрагменту", "Text returned for every chunk")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	failEvery := flag.Int64("fail-every", 0, "Fail every Nth request with 502 (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	s := &fakeServer{text: *text, delay: *delay, failEvery: *failEvery, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", s.transcribeHandler)

	logger.Info("Fake transcription server starting",
		slog.String("address", *addr),
		slog.String("endpoint", "http://localhost"+*addr+"/v1/audio/transcriptions"))

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
