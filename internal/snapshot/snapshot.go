// Package snapshot saves single frames on demand.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/playback"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// ErrNoVideo is returned when there is no decoder to capture from
var ErrNoVideo = playback.ErrNoVideo

// Uploader copies a written snapshot to object storage
type Uploader interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

// Capturer writes snapshot_%06d.jpg files
type Capturer struct {
	quality  int
	logger   *logging.Logger
	uploader Uploader
}

// NewCapturer creates a capturer encoding at quality
func NewCapturer(quality int, logger *logging.Logger) *Capturer {
	if quality <= 0 || quality > 100 {
		quality = frame.DefaultJPEGQuality
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Capturer{quality: quality, logger: logger}
}

// MirrorTo uploads every snapshot through u after it is written locally
func (c *Capturer) MirrorTo(u Uploader) {
	c.uploader = u
}

// Capture decodes the frame at index and writes it into dir, which is
// created if needed. The file is named after the index the decoder actually
// produced. A nil decoder returns ErrNoVideo without touching dir.
func (c *Capturer) Capture(ctx context.Context, dec frame.Decoder, index int, dir string) (*models.Snapshot, error) {
	if dec == nil {
		return nil, ErrNoVideo
	}

	span, ctx := tracing.StartSpan(ctx, "snapshot.capture")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "index", index)

	f, err := dec.SeekAndDecode(ctx, index)
	if err != nil {
		tracing.LogError(span, err)
		metrics.RecordSnapshot("failed")
		return nil, fmt.Errorf("failed to decode frame %d: %w", index, err)
	}

	saved, err := frame.SaveJPEG(dir, frame.SnapshotFileName(f.Index), f.Image, c.quality)
	if err != nil {
		tracing.LogError(span, err)
		metrics.RecordSnapshot("failed")
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	metrics.RecordSnapshot("success")

	log := c.logger.WithVideoPath(dec.Info().Path).WithField("index", f.Index)
	log.Infof("Snapshot saved to %s", saved)

	if c.uploader != nil {
		key := path.Join("snapshots", frame.SnapshotFileName(f.Index))
		if err := c.uploader.UploadFile(ctx, key, saved); err != nil {
			metrics.RecordError("snapshot", "mirror")
			log.WithError(err).Warnf("Failed to mirror %s", key)
		}
	}

	return &models.Snapshot{
		Index:      f.Index,
		Path:       saved,
		CapturedAt: time.Now(),
	}, nil
}

// CaptureCurrent captures the controller's current frame through the
// controller's own decoder.
func (c *Capturer) CaptureCurrent(ctx context.Context, ctrl *playback.Controller, dir string) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := ctrl.WithDecoder(func(dec frame.Decoder, state playback.State) error {
		var err error
		snap, err = c.Capture(ctx, dec, state.CurrentIndex, dir)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
