package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

const jobColumns = `
	id, video_path, output_dir, frame_range, status, progress, message, frames_saved,
	frames_decoded, encode_failures, decode_failures, error_msg, worker_id,
	started_at, completed_at, created_at, updated_at`

func (r *Repository) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start)
	metrics.RecordDatabaseOperation(operation, status, elapsed.Seconds())
	r.logger.LogDatabaseOperation(operation, elapsed, err)
}

// CreateJob inserts a new extraction job record
func (r *Repository) CreateJob(ctx context.Context, job *models.ExtractionJob) (err error) {
	start := time.Now()
	defer func() { r.observe("create_job", start, err) }()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	query := `
		INSERT INTO extraction_jobs (id, video_path, output_dir, frame_range, status, progress, message,
		                             frames_saved, worker_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.VideoPath, job.OutputDir, job.Range, job.Status,
		job.Progress.Percent, job.Progress.Message, job.Progress.FramesSaved, job.WorkerID,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// UpdateJob writes the mutable fields of a job record
func (r *Repository) UpdateJob(ctx context.Context, job *models.ExtractionJob) (err error) {
	start := time.Now()
	defer func() { r.observe("update_job", start, err) }()

	query := `
		UPDATE extraction_jobs
		SET status = $2, progress = $3, message = $4, frames_saved = $5, frames_decoded = $6,
		    encode_failures = $7, decode_failures = $8, error_msg = $9, worker_id = $10,
		    started_at = $11, completed_at = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.Status, job.Progress.Percent, job.Progress.Message, job.Progress.FramesSaved,
		job.FramesDecoded, job.EncodeFailures, job.DecodeFailures, job.ErrorMsg, job.WorkerID,
		job.StartedAt, job.CompletedAt,
	).Scan(&job.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s not found", job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID. A missing job returns nil, nil.
func (r *Repository) GetJob(ctx context.Context, id string) (job *models.ExtractionJob, err error) {
	start := time.Now()
	defer func() { r.observe("get_job", start, err) }()

	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE id = $1`

	job, err = scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs retrieves jobs newest first, optionally filtered by status
func (r *Repository) ListJobs(ctx context.Context, status string, limit, offset int) (jobs []*models.ExtractionJob, err error) {
	start := time.Now()
	defer func() { r.observe("list_jobs", start, err) }()

	query := `SELECT ` + jobColumns + `
		FROM extraction_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan job: %w", scanErr)
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	err := row.Scan(
		&job.ID, &job.VideoPath, &job.OutputDir, &job.Range, &job.Status,
		&job.Progress.Percent, &job.Progress.Message, &job.Progress.FramesSaved,
		&job.FramesDecoded, &job.EncodeFailures, &job.DecodeFailures, &job.ErrorMsg, &job.WorkerID,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
