// Package studio is the interactive session around one loaded video: the
// playback position, the user's sampling range and output directory, and
// the batch job started from them.
package studio

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/extract"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/playback"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/sampler"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/snapshot"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// DefaultStride is the sampling interval of a freshly created session
const DefaultStride = 10

// DefaultOutputDirName is created next to the loaded video
const DefaultOutputDirName = "frames_output"

// ErrNoVideo is returned by operations that need a loaded video
var ErrNoVideo = playback.ErrNoVideo

// Session is a point-in-time view of the studio
type Session struct {
	Video         *models.Video     `json:"video,omitempty"`
	Playback      playback.State    `json:"playback"`
	Timecode      string            `json:"timecode"`
	Range         models.FrameRange `json:"range"`
	ExpectedCount int               `json:"expected_count"`
	OutputDir     string            `json:"output_dir"`
	ActiveJob     string            `json:"active_job,omitempty"`
}

// Studio ties a playback controller, a snapshot capturer and an extraction
// manager to one user-editable range and output directory.
type Studio struct {
	ctrl          *playback.Controller
	capturer      *snapshot.Capturer
	manager       *extract.Manager
	outputDirName string
	logger        *logging.Logger

	mu        sync.Mutex
	videoPath string
	rng       sampler.Range
	outputDir string
}

// New creates a studio with nothing loaded
func New(ctrl *playback.Controller, capturer *snapshot.Capturer, manager *extract.Manager, outputDirName string, logger *logging.Logger) *Studio {
	if outputDirName == "" {
		outputDirName = DefaultOutputDirName
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Studio{
		ctrl:          ctrl,
		capturer:      capturer,
		manager:       manager,
		outputDirName: outputDirName,
		logger:        logger,
		rng:           sampler.Range{Stride: DefaultStride},
	}
}

// Controller returns the studio's playback controller
func (s *Studio) Controller() *playback.Controller {
	return s.ctrl
}

// Manager returns the studio's extraction manager
func (s *Studio) Manager() *extract.Manager {
	return s.manager
}

// Load opens path for preview. The range is reset to the whole video at the
// current stride and the output directory to one next to the video.
func (s *Studio) Load(ctx context.Context, path string) (Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Session{}, fmt.Errorf("invalid video path: %w", err)
	}

	info, err := s.ctrl.Load(ctx, abs)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.videoPath = abs
	s.rng = sampler.Full(info.TotalFrames, s.rng.Stride)
	s.outputDir = filepath.Join(filepath.Dir(abs), s.outputDirName)
	s.mu.Unlock()

	return s.Session(), nil
}

// Session returns the current view of the studio
func (s *Studio) Session() Session {
	state := s.ctrl.State()
	info, loaded := s.ctrl.Info()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{
		Playback:      state,
		Timecode:      state.Timecode(),
		Range:         extract.RangeToModel(s.rng),
		ExpectedCount: s.rng.Count(),
		OutputDir:     s.outputDir,
	}
	if loaded {
		video := info.Model()
		sess.Video = &video
	}
	if job := s.manager.Running(); job != nil {
		sess.ActiveJob = job.ID
	}
	return sess
}

// SetRange replaces the sampling range. Start and End must lie inside the
// video; End may be before Start, which selects nothing.
func (s *Studio) SetRange(r sampler.Range) (Session, error) {
	info, loaded := s.ctrl.Info()
	if !loaded {
		return Session{}, ErrNoVideo
	}
	if err := checkBounds(r, info.TotalFrames); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.rng = r
	s.mu.Unlock()
	return s.Session(), nil
}

// checkBounds skips the upper bound when totalFrames is unknown
func checkBounds(r sampler.Range, totalFrames int) error {
	if r.Stride < 1 {
		return fmt.Errorf("%w: stride must be at least 1, got %d", sampler.ErrInvalidRange, r.Stride)
	}
	for _, v := range []int{r.Start, r.End} {
		if v < 0 {
			return fmt.Errorf("%w: frame %d is negative", sampler.ErrInvalidRange, v)
		}
		if totalFrames > 0 && v >= totalFrames {
			return fmt.Errorf("%w: frame %d outside [0, %d]", sampler.ErrInvalidRange, v, totalFrames-1)
		}
	}
	return nil
}

// SetOutputDir changes where snapshots and extracted frames are written
func (s *Studio) SetOutputDir(dir string) (Session, error) {
	if dir == "" {
		return Session{}, fmt.Errorf("output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Session{}, fmt.Errorf("invalid output directory: %w", err)
	}

	s.mu.Lock()
	s.outputDir = abs
	s.mu.Unlock()
	return s.Session(), nil
}

// MarkIn sets the range start to the current playback position
func (s *Studio) MarkIn() (Session, error) {
	return s.mark(func(r *sampler.Range, index int) { r.Start = index })
}

// MarkOut sets the range end to the current playback position
func (s *Studio) MarkOut() (Session, error) {
	return s.mark(func(r *sampler.Range, index int) { r.End = index })
}

func (s *Studio) mark(set func(r *sampler.Range, index int)) (Session, error) {
	if _, loaded := s.ctrl.Info(); !loaded {
		return Session{}, ErrNoVideo
	}
	state := s.ctrl.State()

	s.mu.Lock()
	set(&s.rng, state.CurrentIndex)
	s.mu.Unlock()
	return s.Session(), nil
}

// Toggle flips playback
func (s *Studio) Toggle() (Session, error) {
	if _, err := s.ctrl.Toggle(); err != nil {
		return Session{}, err
	}
	return s.Session(), nil
}

// Scrub moves the preview to index while paused
func (s *Studio) Scrub(ctx context.Context, index int) (Session, error) {
	if _, err := s.ctrl.Scrub(ctx, index); err != nil {
		return Session{}, err
	}
	return s.Session(), nil
}

// Step advances the preview one frame while paused
func (s *Studio) Step(ctx context.Context) (Session, error) {
	if _, err := s.ctrl.Step(ctx); err != nil {
		return Session{}, err
	}
	return s.Session(), nil
}

// Capture saves the current preview frame into the output directory
func (s *Studio) Capture(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	dir := s.outputDir
	s.mu.Unlock()

	return s.capturer.CaptureCurrent(ctx, s.ctrl, dir)
}

// Request returns a validated extraction request over a copy of the
// current range and output directory.
func (s *Studio) Request() (extract.Request, error) {
	info, loaded := s.ctrl.Info()
	if !loaded {
		return extract.Request{}, ErrNoVideo
	}

	s.mu.Lock()
	req := extract.Request{
		VideoPath: s.videoPath,
		OutputDir: s.outputDir,
		Range:     s.rng,
	}
	s.mu.Unlock()

	if err := req.Range.Validate(info.TotalFrames); err != nil {
		return extract.Request{}, err
	}
	return req, nil
}

// StartExtraction launches a batch job over a copy of the current range.
// Later edits to the range do not affect the running job.
func (s *Studio) StartExtraction(ctx context.Context) (*extract.Job, error) {
	req, err := s.Request()
	if err != nil {
		return nil, err
	}

	job, err := s.manager.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.WithJobID(job.ID).WithVideoPath(req.VideoPath).Infof("Extraction started: %d frames expected", req.Range.Count())
	return job, nil
}

// Close stops playback and releases the preview decoder
func (s *Studio) Close() error {
	return s.ctrl.Close()
}
