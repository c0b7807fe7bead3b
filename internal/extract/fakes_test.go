package extract

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// fakeSource describes a synthetic video
type fakeSource struct {
	total  int
	failAt func(index int) bool
	block  bool
	// seekLag makes a seek land that many frames after the requested one
	seekLag int
}

type fakeOpener struct {
	src    fakeSource
	err    error
	opened atomic.Int32

	mu       sync.Mutex
	decoders []*fakeDecoder
}

func (o *fakeOpener) Open(ctx context.Context, path string) (frame.Decoder, error) {
	o.opened.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	d := &fakeDecoder{src: o.src, maxRead: -1}
	o.mu.Lock()
	o.decoders = append(o.decoders, d)
	o.mu.Unlock()
	return d, nil
}

func (o *fakeOpener) last() *fakeDecoder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decoders[len(o.decoders)-1]
}

type fakeDecoder struct {
	src      fakeSource
	cursor   int
	maxRead  int
	released atomic.Bool
}

func (d *fakeDecoder) Info() frame.VideoInfo {
	return frame.VideoInfo{Path: "fake.mp4", Width: 4, Height: 4, FPS: 25, TotalFrames: d.src.total}
}

func (d *fakeDecoder) SeekAndDecode(ctx context.Context, index int) (*frame.Frame, error) {
	d.cursor = index + d.src.seekLag
	return d.Next(ctx)
}

func (d *fakeDecoder) Next(ctx context.Context) (*frame.Frame, error) {
	if d.released.Load() {
		return nil, frame.ErrClosed
	}
	if d.src.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := d.cursor
	if idx > d.maxRead {
		d.maxRead = idx
	}
	if idx >= d.src.total {
		return nil, frame.ErrEndOfStream
	}
	d.cursor++
	if d.src.failAt != nil && d.src.failAt(idx) {
		return nil, frame.ErrDecodeFailed
	}
	return &frame.Frame{Index: idx, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}, nil
}

func (d *fakeDecoder) Release() error {
	d.released.Store(true)
	return nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *fakeUploader) UploadFile(ctx context.Context, key, filePath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.keys = append(u.keys, key)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]models.ExtractionJob
	updates int
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]models.ExtractionJob)}
}

func (s *fakeStore) CreateJob(ctx context.Context, job *models.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records[job.ID] = *job
	return nil
}

func (s *fakeStore) UpdateJob(ctx context.Context, job *models.ExtractionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.records[job.ID] = *job
	return nil
}

func (s *fakeStore) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *fakeStore) get(id string) models.ExtractionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type fakeCache struct {
	mu       sync.Mutex
	jobs     map[string]models.ExtractionJob
	progress map[string][]models.JobProgress
	locks    map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		jobs:     make(map[string]models.ExtractionJob),
		progress: make(map[string][]models.JobProgress),
		locks:    make(map[string]bool),
	}
}

func (c *fakeCache) SetJob(ctx context.Context, job *models.ExtractionJob, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[job.ID] = *job
	return nil
}

func (c *fakeCache) GetJob(ctx context.Context, id string) (*models.ExtractionJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (c *fakeCache) SetJobProgress(ctx context.Context, id string, p models.JobProgress, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[id] = append(c.progress[id], p)
	return nil
}

func (c *fakeCache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[resource] {
		return false, nil
	}
	c.locks[resource] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(ctx context.Context, resource string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, resource)
	return nil
}

func (c *fakeCache) locked(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[resource]
}

var errDisk = errors.New("disk full")

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []models.ExtractionJob
	err  error
}

func (n *fakeNotifier) NotifyJob(ctx context.Context, job *models.ExtractionJob) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, *job)
	return n.err
}
