package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/phone-spec-scraper/internal/queue"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	KindBrands     = "brands"
	KindCategories = "categories"

	listLimit = 100
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrUnknownKind = errors.New("unknown job kind")
)

// BatchRunner executes the batch scrapes behind a job.
type BatchRunner interface {
	RunBrands(ctx context.Context, req BrandsRequest) (*Report, error)
	RunCategories(ctx context.Context, req CategoriesRequest) (*Report, error)
}

// Job is one queued batch scrape.
type Job struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Status      string             `json:"status"`
	Brands      *BrandsRequest     `json:"brands,omitempty"`
	Categories  *CategoriesRequest `json:"categories,omitempty"`
	Report      *Report            `json:"report,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type CreateRequest struct {
	Kind       string             `json:"kind"`
	Brands     *BrandsRequest     `json:"brands,omitempty"`
	Categories *CategoriesRequest `json:"categories,omitempty"`
}

type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	QueuedTasks   int `json:"queued_tasks"`
}

// Manager keeps the job registry in memory and feeds a single worker
// through the task queue.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	order  []string
	queue  *queue.InMemoryQueue
	runner BatchRunner
	logger *slog.Logger
}

func NewManager(runner BatchRunner, q *queue.InMemoryQueue, logger *slog.Logger) *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		queue:  q,
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// CreateJob registers a pending job and queues it for the worker.
func (m *Manager) CreateJob(ctx context.Context, req CreateRequest) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      req.Kind,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	switch req.Kind {
	case KindBrands:
		job.Brands = req.Brands
		if job.Brands == nil {
			job.Brands = &BrandsRequest{}
		}
	case KindCategories:
		job.Categories = req.Categories
		if job.Categories == nil {
			job.Categories = &CategoriesRequest{}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{ID: uuid.New().String(), JobID: job.ID, Kind: job.Kind}); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == job.ID })
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "kind", job.Kind)
	return m.snapshot(job), nil
}

// GetJob returns a copy of the job's current state.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return m.copyJob(job), nil
}

// ListJobs returns the most recent jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, min(len(m.order), listLimit))
	for i := len(m.order) - 1; i >= 0 && len(jobs) < listLimit; i-- {
		jobs = append(jobs, m.copyJob(m.jobs[m.order[i]]))
	}
	return jobs, nil
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueuedTasks: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}
	return stats, nil
}

// StartWorker runs queued jobs one at a time until ctx is canceled or the
// queue is closed and drained.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			m.logger.Info("job worker stopping", "reason", err)
			return
		}
		m.processJob(ctx, task.JobID)
	}
}

func (m *Manager) processJob(ctx context.Context, jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("queued job vanished", "id", jobID)
		return
	}
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	kind, brands, categories := job.Kind, job.Brands, job.Categories
	m.mu.Unlock()

	m.logger.Info("processing job", "id", jobID, "kind", kind)

	var report *Report
	var err error
	switch kind {
	case KindBrands:
		report, err = m.runner.RunBrands(ctx, *brands)
	case KindCategories:
		report, err = m.runner.RunCategories(ctx, *categories)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	done := time.Now()
	job.CompletedAt = &done
	job.Report = report
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		m.logger.Error("job failed", "id", jobID, "error", err)
		return
	}
	job.Status = StatusCompleted
	m.logger.Info("job completed", "id", jobID)
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyJob(job)
}

// copyJob is called with mu held.
func (m *Manager) copyJob(job *Job) *Job {
	c := *job
	return &c
}
