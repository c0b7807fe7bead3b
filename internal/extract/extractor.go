// Package extract runs batch frame extraction: it walks a frame range on a
// dedicated decoder, saves every stride-th frame as a JPEG and reports
// progress to its caller.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/sampler"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/tracing"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// ErrEncodeFailed marks a sampled frame that could not be written
var ErrEncodeFailed = errors.New("frame encode failed")

// Options tunes an Extractor
type Options struct {
	JPEGQuality       int
	ProgressEvery     int
	MaxDecodeFailures int
}

// DefaultOptions returns the options used when config leaves them unset
func DefaultOptions() Options {
	return Options{
		JPEGQuality:       frame.DefaultJPEGQuality,
		ProgressEvery:     10,
		MaxDecodeFailures: 3,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = def.JPEGQuality
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = def.ProgressEvery
	}
	if o.MaxDecodeFailures < 0 {
		o.MaxDecodeFailures = def.MaxDecodeFailures
	}
	return o
}

// Request describes one extraction. JobID is optional; the manager assigns
// one when it is empty.
type Request struct {
	JobID     string
	VideoPath string
	OutputDir string
	Range     sampler.Range
}

// Event is a progress or terminal notification from a job
type Event struct {
	JobID       string `json:"job_id"`
	Percent     int    `json:"percent"`
	Message     string `json:"message"`
	FramesSaved int    `json:"frames_saved"`
	Terminal    bool   `json:"terminal"`
	Success     bool   `json:"success"`
	Status      string `json:"status"`
}

// Result summarizes a finished run
type Result struct {
	Status         string
	Message        string
	FramesSaved    int
	FramesDecoded  int
	EncodeFailures int
	DecodeFailures int
	Err            error
}

// Uploader mirrors saved frames to object storage
type Uploader interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

type saveFunc func(dir, name string, img image.Image, quality int) (string, error)

// Extractor executes extraction requests. It holds no per-job state and can
// run several requests, each on its own decoder.
type Extractor struct {
	opener   frame.Opener
	opts     Options
	logger   *logging.Logger
	uploader Uploader
	save     saveFunc
}

// NewExtractor creates an extractor that opens sources through opener
func NewExtractor(opener frame.Opener, opts Options, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Extractor{
		opener: opener,
		opts:   opts.withDefaults(),
		logger: logger,
		save:   frame.SaveJPEG,
	}
}

// MirrorTo uploads every saved frame through u. Upload failures are logged
// and do not affect the job.
func (e *Extractor) MirrorTo(u Uploader) {
	e.uploader = u
}

// Run executes req to completion and returns its result. emit receives a 0%
// event, throttled progress events below 100, then exactly one terminal
// event at 100. Cancelling ctx stops the loop at the next frame.
func (e *Extractor) Run(ctx context.Context, req Request, emit func(Event)) Result {
	span, ctx := tracing.StartSpan(ctx, "extract.run")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "job_id", req.JobID)
	tracing.SetTag(span, "video_path", req.VideoPath)

	if emit == nil {
		emit = func(Event) {}
	}
	log := e.logger.WithJobID(req.JobID).WithVideoPath(req.VideoPath)
	r := req.Range
	tracker := sampler.NewTracker(r)

	var res Result
	progress := func(percent int, msg string) {
		emit(Event{
			JobID:       req.JobID,
			Percent:     percent,
			Message:     msg,
			FramesSaved: res.FramesSaved,
			Status:      models.JobStatusRunning,
		})
	}
	finish := func(status, msg string, err error) Result {
		res.Status = status
		res.Message = msg
		res.Err = err
		if err != nil {
			tracing.LogError(span, err)
		}
		tracing.SetTag(span, "frames_saved", res.FramesSaved)
		percent, _ := tracker.Finish()
		emit(Event{
			JobID:       req.JobID,
			Percent:     percent,
			Message:     msg,
			FramesSaved: res.FramesSaved,
			Terminal:    true,
			Success:     status == models.JobStatusCompleted,
			Status:      status,
		})
		return res
	}

	if r.Empty() {
		return finish(models.JobStatusCompleted, "nothing to extract: range is empty", nil)
	}

	progress(0, fmt.Sprintf("extracting frames %d-%d every %d", r.Start, r.End, r.Stride))

	dec, err := e.opener.Open(ctx, req.VideoPath)
	if err != nil {
		metrics.RecordError("extract", "open")
		log.ErrorWithErr("Cannot open video", err)
		return finish(models.JobStatusFailed, fmt.Sprintf("cannot open video %s: %v", req.VideoPath, err), err)
	}
	defer dec.Release()

	next := r.Start
	failures := 0
	f, err := dec.SeekAndDecode(ctx, next)
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(models.JobStatusCancelled, fmt.Sprintf("cancelled after saving %d frames", res.FramesSaved), ctxErr)
		}

		if err != nil {
			if errors.Is(err, frame.ErrEndOfStream) {
				break
			}
			res.DecodeFailures++
			failures++
			metrics.RecordFrameFailure("decode")
			log.LogFrameSkipped(req.JobID, next, "decode", err)
			if failures > e.opts.MaxDecodeFailures {
				log.Warnf("Giving up after %d consecutive decode failures at frame %d", failures, next)
				break
			}
			next++
			if next > r.End {
				break
			}
			f, err = dec.SeekAndDecode(ctx, next)
			continue
		}
		failures = 0

		if f.Index > r.End {
			break
		}
		res.FramesDecoded++
		metrics.RecordFrameDecoded()

		if r.Sampled(f.Index) {
			e.persist(ctx, log, req, f, &res)
		}

		if res.FramesDecoded%e.opts.ProgressEvery == 0 {
			if percent, ok := tracker.Advance(f.Index); ok {
				current := min(f.Index, r.End)
				log.LogExtractionProgress(req.JobID, percent, res.FramesSaved, fmt.Sprintf("processing frame %d", current))
				progress(percent, fmt.Sprintf("processing frame %d", current))
			}
		}

		next = f.Index + 1
		if next > r.End {
			break
		}
		f, err = dec.Next(ctx)
	}

	msg := fmt.Sprintf("saved %d frames to %s", res.FramesSaved, req.OutputDir)
	if res.EncodeFailures > 0 {
		msg = fmt.Sprintf("%s (%d failed to encode)", msg, res.EncodeFailures)
	}
	return finish(models.JobStatusCompleted, msg, nil)
}

// persist writes one sampled frame. Failures are counted, never fatal.
func (e *Extractor) persist(ctx context.Context, log *logging.Logger, req Request, f *frame.Frame, res *Result) {
	name := frame.FrameFileName(f.Index)
	saved, err := e.save(req.OutputDir, name, f.Image, e.opts.JPEGQuality)
	if err != nil {
		res.EncodeFailures++
		metrics.RecordFrameFailure("encode")
		log.LogFrameSkipped(req.JobID, f.Index, "encode", fmt.Errorf("%w: %v", ErrEncodeFailed, err))
		return
	}
	res.FramesSaved++
	metrics.RecordFrameSaved()

	if e.uploader == nil {
		return
	}
	key := path.Join("frames", req.JobID, name)
	start := time.Now()
	if err := e.uploader.UploadFile(ctx, key, saved); err != nil {
		metrics.RecordError("extract", "mirror")
		log.WithError(err).Warnf("Failed to mirror %s", key)
		return
	}
	log.Debugf("Mirrored %s in %s", key, time.Since(start))
}

// RangeFromModel converts the persisted range form
func RangeFromModel(r models.FrameRange) sampler.Range {
	return sampler.Range{Start: r.Start, End: r.End, Stride: r.Stride}
}

// RangeToModel converts a range to its persisted form
func RangeToModel(r sampler.Range) models.FrameRange {
	return models.FrameRange{Start: r.Start, End: r.End, Stride: r.Stride}
}

// RequestFromMessage converts a queue message into a request
func RequestFromMessage(m models.ExtractionRequest) Request {
	return Request{
		JobID:     m.JobID,
		VideoPath: m.VideoPath,
		OutputDir: m.OutputDir,
		Range:     RangeFromModel(m.Range),
	}
}

// Message converts the request to its queue form
func (r Request) Message() models.ExtractionRequest {
	return models.ExtractionRequest{
		JobID:     r.JobID,
		VideoPath: r.VideoPath,
		OutputDir: r.OutputDir,
		Range:     RangeToModel(r.Range),
	}
}
