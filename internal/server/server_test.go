package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bonchardon-dev/audio-transcription/internal/config"
	"github.com/bonchardon-dev/audio-transcription/internal/metrics"
	"github.com/bonchardon-dev/audio-transcription/internal/pipeline"
	"github.com/bonchardon-dev/audio-transcription/internal/transcription"
	"github.com/bonchardon-dev/audio-transcription/internal/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	mu      sync.Mutex
	paths   []string
	release chan struct{}
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, path string) (*pipeline.Result, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()

	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, &pipeline.StageError{Stage: pipeline.StageTranscribe, Kind: pipeline.KindCanceled, Err: ctx.Err()}
		}
	}

	if r.err != nil {
		return nil, r.err
	}

	return &pipeline.Result{
		RecordingPath: path,
		Transcript:    &transcription.Result{Text: "добрий день", Succeeded: 1},
	}, nil
}

type fakeGauge struct {
	mu     sync.Mutex
	values []int
}

func (g *fakeGauge) SetActiveJobs(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values = append(g.values, count)
}

func writeRecording(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "call.m4a")
	if err := os.WriteFile(path, []byte("m4a"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newManager(t *testing.T, runner Runner) *JobManager {
	t.Helper()

	m, err := NewJobManager(runner, ManagerConfig{Retention: time.Minute, CleanupInterval: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("NewJobManager failed: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func waitForStatus(t *testing.T, m *JobManager, id, status string) JobInfo {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := m.Get(id); ok && info.Status == status {
			return info
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s did not reach status %s", id, status)
	return JobInfo{}
}

func TestJobManagerLifecycle(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	gauge := &fakeGauge{}
	m := newManager(t, runner).WithGauge(gauge)

	info, err := m.Submit(writeRecording(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if info.ID == "" || info.Status != StatusQueued {
		t.Errorf("Expected queued job with ID, got %+v", info)
	}

	waitForStatus(t, m, info.ID, StatusRunning)
	if stats := m.GetStats(); stats.Running != 1 {
		t.Errorf("Expected 1 running job, got %d", stats.Running)
	}

	close(runner.release)

	done := waitForStatus(t, m, info.ID, StatusSucceeded)
	if done.Result == nil || done.Result.Transcript.Text != "добрий день" {
		t.Errorf("Expected transcript in result, got %+v", done.Result)
	}

	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("Expected start and finish times")
	}

	gauge.mu.Lock()
	defer gauge.mu.Unlock()
	if len(gauge.values) != 2 || gauge.values[0] != 1 || gauge.values[1] != 0 {
		t.Errorf("Expected gauge 1 then 0, got %v", gauge.values)
	}
}

func TestJobManagerFailure(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.StageError{Stage: pipeline.StageTrim, Kind: pipeline.KindAllSilent, Err: vad.ErrAllSilent}}
	m := newManager(t, runner)

	info, err := m.Submit(writeRecording(t))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	failed := waitForStatus(t, m, info.ID, StatusFailed)
	if failed.Kind != string(pipeline.KindAllSilent) {
		t.Errorf("Expected kind all_silent, got %s", failed.Kind)
	}

	if !strings.Contains(failed.Error, "silent") {
		t.Errorf("Expected error message, got %q", failed.Error)
	}
}

func TestJobManagerRejectsInvalidPath(t *testing.T) {
	m := newManager(t, &fakeRunner{})

	for _, path := range []string{"", "/nonexistent/recording.wav", t.TempDir()} {
		if _, err := m.Submit(path); err == nil {
			t.Errorf("Expected error for path %q", path)
		}
	}
}

func TestJobManagerStopCancelsJobs(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	m, err := NewJobManager(runner, ManagerConfig{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	info, err := m.Submit(writeRecording(t))
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, m, info.ID, StatusRunning)

	m.Stop()

	got, _ := m.Get(info.ID)
	if got.Status != StatusFailed || got.Kind != string(pipeline.KindCanceled) {
		t.Errorf("Expected cancelled job, got %+v", got)
	}

	if _, err := m.Submit(writeRecording(t)); err != ErrStopped {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestCleanupFinishedJobs(t *testing.T) {
	m := newManager(t, &fakeRunner{})

	info, err := m.Submit(writeRecording(t))
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, m, info.ID, StatusSucceeded)

	if removed := m.cleanupFinishedJobs(time.Now()); removed != 0 {
		t.Errorf("Expected no removal inside retention, got %d", removed)
	}

	if removed := m.cleanupFinishedJobs(time.Now().Add(2 * time.Minute)); removed != 1 {
		t.Errorf("Expected 1 removal after retention, got %d", removed)
	}

	if _, ok := m.Get(info.ID); ok {
		t.Error("Expected job to be removed")
	}
}

func newTestServer(t *testing.T, runner Runner) (*HTTPServer, *JobManager) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	jobs := newManager(t, runner)

	cfg := config.Default()
	cfg.Transcription.APIKey = "sk-secret"

	srv := NewHTTPServer(HTTPServerConfig{
		Address:        "127.0.0.1",
		Port:           0,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, testLogger(), cfg, jobs, m)

	return srv, jobs
}

func TestHTTPSubmitAndGetJob(t *testing.T) {
	srv, jobs := newTestServer(t, &fakeRunner{})

	body, _ := json.Marshal(submitRequest{Path: writeRecording(t)})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	id := created["id"]
	if id == "" {
		t.Fatal("Expected job ID in response")
	}

	waitForStatus(t, jobs, id, StatusSucceeded)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var info JobInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}

	if info.Status != StatusSucceeded {
		t.Errorf("Expected succeeded, got %s", info.Status)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if !strings.Contains(rec.Body.String(), id) {
		t.Errorf("Expected job listing to contain %s", id)
	}
}

func TestHTTPErrors(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"invalid body", http.MethodPost, "/jobs", "{", http.StatusBadRequest},
		{"missing file", http.MethodPost, "/jobs", `{"path": "/nonexistent.wav"}`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/jobs/unknown", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/jobs", "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/nothing", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestHTTPConfigRedactsSecrets(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Error("API key leaked through /config")
	}
}

func TestHTTPStatsAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	srv.WithStats("chunker", func() any { return map[string]int{"chunks_created": 3} })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if !strings.Contains(rec.Body.String(), "chunks_created") {
		t.Errorf("Expected registered stats, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Unexpected health response %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "transcriber_http_requests_total") {
		t.Errorf("Expected HTTP request metrics, got %s", rec.Body.String())
	}
}
