package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ExtractionJob represents a batch frame extraction job
type ExtractionJob struct {
	ID             string      `json:"id" db:"id"`
	VideoPath      string      `json:"video_path" db:"video_path"`
	OutputDir      string      `json:"output_dir" db:"output_dir"`
	Range          FrameRange  `json:"range" db:"range"`
	Status         string      `json:"status" db:"status"`
	Progress       JobProgress `json:"progress" db:"-"`
	FramesDecoded  int         `json:"frames_decoded" db:"frames_decoded"`
	EncodeFailures int         `json:"encode_failures" db:"encode_failures"`
	DecodeFailures int         `json:"decode_failures" db:"decode_failures"`
	ErrorMsg       string      `json:"error_msg,omitempty" db:"error_msg"`
	WorkerID       string      `json:"worker_id,omitempty" db:"worker_id"`
	StartedAt      *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// FrameRange is the persisted form of a sampling range
type FrameRange struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Stride int `json:"stride"`
}

// Value implements driver.Valuer for database storage
func (r FrameRange) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *FrameRange) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	}
	return nil
}

// JobProgress is the caller-facing progress of a job. Percent stays below
// 100 until the job reaches a terminal state.
type JobProgress struct {
	Percent     int    `json:"percent"`
	Message     string `json:"message"`
	FramesSaved int    `json:"frames_saved"`
}

// Terminal reports whether the status is final
func (j *ExtractionJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobStatus constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ExtractionRequest is the queue message asking a worker to run a job
type ExtractionRequest struct {
	JobID     string     `json:"job_id"`
	VideoPath string     `json:"video_path"`
	OutputDir string     `json:"output_dir"`
	Range     FrameRange `json:"range"`
}

// ExtractionStatus is the queue message published when a job finishes
type ExtractionStatus struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FramesSaved int    `json:"frames_saved"`
}
