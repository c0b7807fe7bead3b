package extract

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// DefaultEventBuffer is the capacity of a job's event channel
const DefaultEventBuffer = 16

// Job is one running or finished extraction. Events are delivered in order
// on Events; progress events may be dropped when the reader falls behind,
// the terminal event never is. The channel is closed after it.
type Job struct {
	ID      string
	Request Request

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.RWMutex
	record models.ExtractionJob
	result Result
}

func newJob(id string, req Request, workerID string, buffer int) *Job {
	if buffer < 2 {
		buffer = 2
	}
	now := time.Now()
	return &Job{
		ID:      id,
		Request: req,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		record: models.ExtractionJob{
			ID:        id,
			VideoPath: req.VideoPath,
			OutputDir: req.OutputDir,
			Range:     RangeToModel(req.Range),
			Status:    models.JobStatusPending,
			WorkerID:  workerID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Events returns the job's notification stream
func (j *Job) Events() <-chan Event {
	return j.events
}

// Done is closed once the job has finished and its final state is recorded
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel asks the job to stop at the next frame
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Snapshot returns a copy of the job record
func (j *Job) Snapshot() models.ExtractionJob {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.record
}

// Result returns the run summary. It is zero until Done is closed.
func (j *Job) Result() Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result
}

// Wait blocks until the job finishes or ctx is done
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// emit records ev and forwards it. Only the job goroutine calls emit, so
// keeping one slot free guarantees the terminal send cannot block.
func (j *Job) emit(ev Event) {
	j.apply(ev)

	if ev.Terminal {
		j.events <- ev
		close(j.events)
		return
	}
	if len(j.events) < cap(j.events)-1 {
		j.events <- ev
	}
}

func (j *Job) apply(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if ev.Percent >= j.record.Progress.Percent {
		j.record.Progress.Percent = ev.Percent
	}
	j.record.Progress.Message = ev.Message
	j.record.Progress.FramesSaved = ev.FramesSaved
	if ev.Status != "" {
		j.record.Status = ev.Status
	}
	if ev.Terminal && !ev.Success {
		j.record.ErrorMsg = ev.Message
	}
	j.record.UpdatedAt = time.Now()
}

func (j *Job) markRunning() models.ExtractionJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.record.Status = models.JobStatusRunning
	j.record.StartedAt = &now
	j.record.UpdatedAt = now
	return j.record
}

func (j *Job) finish(res Result) models.ExtractionJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.result = res
	j.record.Status = res.Status
	j.record.FramesDecoded = res.FramesDecoded
	j.record.EncodeFailures = res.EncodeFailures
	j.record.DecodeFailures = res.DecodeFailures
	j.record.Progress.FramesSaved = res.FramesSaved
	j.record.CompletedAt = &now
	j.record.UpdatedAt = now
	return j.record
}
