package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

var (
	// ErrJobRunning is returned when an extraction is already in flight
	ErrJobRunning = errors.New("an extraction job is already running")
	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("extraction job not found")
)

// JobStore persists job records
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ExtractionJob) error
	UpdateJob(ctx context.Context, job *models.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
}

// ProgressCache publishes live job state and serializes work per video
type ProgressCache interface {
	SetJob(ctx context.Context, job *models.ExtractionJob, ttl time.Duration) error
	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	SetJobProgress(ctx context.Context, id string, progress models.JobProgress, ttl time.Duration) error
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// Notifier is told about every job that reaches a terminal state
type Notifier interface {
	NotifyJob(ctx context.Context, job *models.ExtractionJob) error
}

// Manager admits one extraction at a time and keeps the history of jobs it
// has run.
type Manager struct {
	extractor *Extractor
	logger    *logging.Logger
	store     JobStore
	cache     ProgressCache
	notifier  Notifier
	workerID  string
	source    string
	buffer    int
	cacheTTL  time.Duration
	lockTTL   time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	running *Job
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithJobStore persists every job transition
func WithJobStore(store JobStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithProgressCache publishes progress and takes a per-video lock
func WithProgressCache(cache ProgressCache, ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// WithNotifier reports finished jobs to n before Wait returns
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithWorkerID tags job records with the worker that ran them
func WithWorkerID(id string) ManagerOption {
	return func(m *Manager) { m.workerID = id }
}

// WithSource labels created-job metrics
func WithSource(source string) ManagerOption {
	return func(m *Manager) { m.source = source }
}

// WithEventBuffer sets the event channel capacity of new jobs
func WithEventBuffer(n int) ManagerOption {
	return func(m *Manager) { m.buffer = n }
}

// NewManager creates a job manager around extractor
func NewManager(extractor *Extractor, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Manager{
		extractor: extractor,
		logger:    logger,
		workerID:  uuid.New().String(),
		source:    "api",
		buffer:    DefaultEventBuffer,
		cacheTTL:  24 * time.Hour,
		lockTTL:   6 * time.Hour,
		jobs:      make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates req and launches it in the background. The job runs on
// its own context; cancel it with Job.Cancel or Manager.Cancel.
func (m *Manager) Start(ctx context.Context, req Request) (*Job, error) {
	if req.VideoPath == "" {
		return nil, fmt.Errorf("video path is required")
	}
	if req.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := req.Range.Validate(0); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running != nil {
		return nil, ErrJobRunning
	}

	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	if _, exists := m.jobs[req.JobID]; exists {
		return nil, fmt.Errorf("job %s already exists", req.JobID)
	}

	if m.cache != nil {
		ok, err := m.cache.AcquireLock(ctx, lockKey(req.VideoPath), m.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire extraction lock: %w", err)
		}
		if !ok {
			return nil, ErrJobRunning
		}
	}

	job := newJob(req.JobID, req, m.workerID, m.buffer)
	if m.store != nil {
		record := job.Snapshot()
		if err := m.store.CreateJob(ctx, &record); err != nil {
			m.releaseLock(ctx, req.VideoPath)
			return nil, fmt.Errorf("failed to create job record: %w", err)
		}
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job.cancel = cancel
	m.jobs[job.ID] = job
	m.running = job

	metrics.RecordJobCreated(m.source)
	m.logger.LogJobEvent(job.ID, "created", models.JobStatusPending, map[string]interface{}{
		"video_path": req.VideoPath,
		"start":      req.Range.Start,
		"end":        req.Range.End,
		"stride":     req.Range.Stride,
	})

	go m.run(jobCtx, job)
	return job, nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	defer job.cancel()
	started := time.Now()
	metrics.UpdateJobsInProgress(1)

	record := job.markRunning()
	m.persist(ctx, &record)

	res := m.extractor.Run(ctx, job.Request, func(ev Event) {
		job.emit(ev)
		if m.cache != nil && !ev.Terminal {
			progress := models.JobProgress{Percent: ev.Percent, Message: ev.Message, FramesSaved: ev.FramesSaved}
			if err := m.cache.SetJobProgress(ctx, job.ID, progress, m.cacheTTL); err != nil {
				m.logger.WithJobID(job.ID).WithError(err).Warn("Failed to cache progress")
			}
		}
	})

	final := job.finish(res)
	// The job context may already be cancelled; the record still has to land.
	bg := context.WithoutCancel(ctx)
	m.persist(bg, &final)
	m.releaseLock(bg, job.Request.VideoPath)

	metrics.RecordJobCompleted(res.Status, time.Since(started).Seconds())
	metrics.UpdateJobsInProgress(0)
	m.logger.LogJobEvent(job.ID, "finished", res.Status, map[string]interface{}{
		"frames_saved":    res.FramesSaved,
		"frames_decoded":  res.FramesDecoded,
		"encode_failures": res.EncodeFailures,
		"decode_failures": res.DecodeFailures,
		"duration":        time.Since(started).String(),
	})

	m.mu.Lock()
	if m.running == job {
		m.running = nil
	}
	m.mu.Unlock()

	if m.notifier != nil {
		if err := m.notifier.NotifyJob(bg, &final); err != nil {
			m.logger.WithJobID(job.ID).WithError(err).Warn("Failed to notify job completion")
		}
	}
	close(job.done)
}

func (m *Manager) persist(ctx context.Context, record *models.ExtractionJob) {
	log := m.logger.WithJobID(record.ID)
	if m.store != nil {
		if err := m.store.UpdateJob(ctx, record); err != nil {
			log.ErrorWithErr("Failed to update job record", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.SetJob(ctx, record, m.cacheTTL); err != nil {
			log.WithError(err).Warn("Failed to cache job")
		}
	}
}

func (m *Manager) releaseLock(ctx context.Context, videoPath string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.ReleaseLock(ctx, lockKey(videoPath)); err != nil {
		m.logger.WithError(err).Warnf("Failed to release extraction lock for %s", videoPath)
	}
}

func lockKey(videoPath string) string {
	return "extract:" + videoPath
}

// Running returns the job in flight, or nil
func (m *Manager) Running() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Job returns a job started by this manager
func (m *Manager) Job(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Get returns the latest record for id, falling back to the cache and then
// the store for jobs this process did not run.
func (m *Manager) Get(ctx context.Context, id string) (models.ExtractionJob, error) {
	if job, ok := m.Job(id); ok {
		return job.Snapshot(), nil
	}

	if m.cache != nil {
		cached, err := m.cache.GetJob(ctx, id)
		metrics.RecordCacheAccess("job", err == nil && cached != nil)
		if err == nil && cached != nil {
			return *cached, nil
		}
	}

	if m.store != nil {
		stored, err := m.store.GetJob(ctx, id)
		if err == nil && stored != nil {
			return *stored, nil
		}
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return models.ExtractionJob{}, err
		}
	}

	return models.ExtractionJob{}, ErrJobNotFound
}

// List returns the records of jobs started by this manager, newest first
func (m *Manager) List() []models.ExtractionJob {
	m.mu.Lock()
	jobs := make([]models.ExtractionJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) error {
	job, ok := m.Job(id)
	if !ok {
		return ErrJobNotFound
	}
	job.Cancel()
	return nil
}
