package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// StatusPublisher reports finished jobs
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status *models.ExtractionStatus) error
}

// Worker runs queued extraction requests one at a time
type Worker struct {
	manager   *extract.Manager
	publisher StatusPublisher
	logger    *logging.Logger
}

// Handle runs req to completion and publishes its outcome. It returns an
// error only when the request should be retried later.
func (w *Worker) Handle(ctx context.Context, msg *models.ExtractionRequest) error {
	log := w.logger.WithJobID(msg.JobID).WithVideoPath(msg.VideoPath)
	log.Info("Processing extraction request")

	job, err := w.manager.Start(ctx, extract.RequestFromMessage(*msg))
	if errors.Is(err, extract.ErrJobRunning) {
		return fmt.Errorf("video is busy: %w", err)
	}
	if err != nil {
		log.WithError(err).Warn("Rejected extraction request")
		return w.publish(ctx, &models.ExtractionStatus{
			JobID:   msg.JobID,
			Status:  models.JobStatusFailed,
			Message: err.Error(),
		})
	}

	// Keep the job running through a shutdown until it notices cancellation
	res, err := job.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	log.LogJobEvent(job.ID, "finished", res.Status, map[string]interface{}{
		"frames_saved":    res.FramesSaved,
		"decode_failures": res.DecodeFailures,
		"encode_failures": res.EncodeFailures,
	})

	return w.publish(ctx, &models.ExtractionStatus{
		JobID:       job.ID,
		Status:      res.Status,
		Success:     res.Status == models.JobStatusCompleted,
		Message:     res.Message,
		FramesSaved: res.FramesSaved,
	})
}

func (w *Worker) publish(ctx context.Context, status *models.ExtractionStatus) error {
	if w.publisher == nil {
		return nil
	}
	if err := w.publisher.PublishStatus(context.WithoutCancel(ctx), status); err != nil {
		// The job already ran; a retry would redo it
		w.logger.WithJobID(status.JobID).WithError(err).Error("Failed to publish status")
	}
	return nil
}
