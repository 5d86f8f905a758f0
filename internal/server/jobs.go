package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bonchardon-dev/audio-transcription/internal/pipeline"
)

// Job states
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var (
	// ErrInvalidPath is returned when a submitted recording cannot be read
	ErrInvalidPath = errors.New("invalid recording path")

	// ErrStopped is returned when submitting to a stopped manager
	ErrStopped = errors.New("job manager stopped")
)

// Runner processes one recording
type Runner interface {
	Run(ctx context.Context, recordingPath string) (*pipeline.Result, error)
}

// ActiveJobsGauge receives the number of running jobs
type ActiveJobsGauge interface {
	SetActiveJobs(count int)
}

// JobInfo is a snapshot of a job
type JobInfo struct {
	ID         string           `json:"id"`
	Path       string           `json:"path"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Kind       string           `json:"kind,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}

type job struct {
	info JobInfo
}

// ManagerConfig contains job manager configuration
type ManagerConfig struct {
	Retention       time.Duration // How long finished jobs are kept
	CleanupInterval time.Duration
}

// JobManager runs pipeline jobs in the background and keeps their state
type JobManager struct {
	runner Runner
	config ManagerConfig
	gauge  ActiveJobsGauge
	logger *slog.Logger

	jobs   map[string]*job
	active int
	mu     sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup chan struct{}
	stopped bool
}

// JobStats represents job manager statistics
type JobStats struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// NewJobManager creates a job manager and starts its cleanup routine
func NewJobManager(runner Runner, config ManagerConfig, logger *slog.Logger) (*JobManager, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	if config.Retention <= 0 {
		config.Retention = time.Hour
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &JobManager{
		runner:  runner,
		config:  config,
		logger:  logger,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
		cleanup: make(chan struct{}),
	}

	go m.startCleanupRoutine()

	return m, nil
}

// WithGauge attaches an active jobs gauge
func (m *JobManager) WithGauge(g ActiveJobsGauge) *JobManager {
	m.gauge = g
	return m
}

// Submit queues a recording for processing and returns the new job
func (m *JobManager) Submit(path string) (JobInfo, error) {
	if path == "" {
		return JobInfo{}, fmt.Errorf("%w: path is required", ErrInvalidPath)
	}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return JobInfo{}, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return JobInfo{}, ErrStopped
	}

	j := &job{info: JobInfo{
		ID:        uuid.NewString(),
		Path:      path,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}}
	m.jobs[j.info.ID] = j
	snapshot := j.info
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("Job submitted",
		slog.String("job_id", snapshot.ID),
		slog.String("path", path))

	go m.execute(j)

	return snapshot, nil
}

func (m *JobManager) execute(j *job) {
	defer m.wg.Done()

	started := time.Now()
	m.mu.Lock()
	j.info.Status = StatusRunning
	j.info.StartedAt = &started
	m.active++
	m.setGauge()
	id, path := j.info.ID, j.info.Path
	m.mu.Unlock()

	result, err := m.runner.Run(m.ctx, path)

	finished := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active--
	m.setGauge()
	j.info.FinishedAt = &finished

	if err != nil {
		j.info.Status = StatusFailed
		j.info.Error = err.Error()
		j.info.Kind = string(pipeline.KindOf(err))
		m.logger.Error("Job failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()))
		return
	}

	j.info.Status = StatusSucceeded
	j.info.Result = result
	m.logger.Info("Job completed",
		slog.String("job_id", id),
		slog.Duration("elapsed", finished.Sub(started)))
}

// setGauge must be called with mu held
func (m *JobManager) setGauge() {
	if m.gauge != nil {
		m.gauge.SetActiveJobs(m.active)
	}
}

// Get returns a snapshot of the job with the given ID
func (m *JobManager) Get(id string) (JobInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, exists := m.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return j.info, true
}

// List returns snapshots of all jobs, oldest first
func (m *JobManager) List() []JobInfo {
	m.mu.RLock()
	jobs := make([]JobInfo, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.info)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs
}

// GetStats returns job counts by state
func (m *JobManager) GetStats() JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := JobStats{Total: len(m.jobs)}
	for _, j := range m.jobs {
		switch j.info.Status {
		case StatusQueued:
			stats.Queued++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Stop cancels running jobs and waits for them and the cleanup routine
func (m *JobManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info("Stopping job manager...")

	m.cancel()
	m.wg.Wait()
	<-m.cleanup

	m.logger.Info("Job manager stopped")
}

func (m *JobManager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupFinishedJobs(time.Now())
		}
	}
}

// cleanupFinishedJobs removes finished jobs older than the retention window
func (m *JobManager) cleanupFinishedJobs(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		if j.info.FinishedAt == nil {
			continue
		}
		if now.Sub(*j.info.FinishedAt) > m.config.Retention {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("Finished jobs cleaned up",
			slog.Int("removed", removed),
			slog.Int("remaining", len(m.jobs)))
	}
	return removed
}
