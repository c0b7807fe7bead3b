// Package playback drives interactive preview of a video: play, pause,
// scrub and single-step, rendering each decoded frame to subscribers.
package playback

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/metrics"
)

var (
	// ErrNoVideo is returned by operations that need a loaded video
	ErrNoVideo = errors.New("no video loaded")
	// ErrControllerClosed is returned after Close
	ErrControllerClosed = errors.New("playback controller closed")
)

// Renderer receives every frame the controller decodes for display. It is
// called from the ticker goroutine and must not call back into the controller.
type Renderer func(index int, img image.Image)

// Controller owns one decoder and the playback position over it. Only one
// ticker runs at a time, so ticks never overlap.
type Controller struct {
	opener frame.Opener
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	dec         frame.Decoder
	info        frame.VideoInfo
	state       State
	lastDecoded int
	stopTick    chan struct{}
	tickDone    chan struct{}
	closed      bool

	subMu     sync.Mutex
	nextSub   int
	renderers map[int]Renderer
}

// NewController creates a controller with nothing loaded
func NewController(opener frame.Opener, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opener:      opener,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		lastDecoded: -1,
		renderers:   make(map[int]Renderer),
	}
}

// Subscribe registers r for rendered frames. The returned func removes it.
func (c *Controller) Subscribe(r Renderer) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.renderers[id] = r
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.renderers, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) render(f *frame.Frame) {
	c.subMu.Lock()
	renderers := make([]Renderer, 0, len(c.renderers))
	for _, r := range c.renderers {
		renderers = append(renderers, r)
	}
	c.subMu.Unlock()

	for _, r := range renderers {
		r(f.Index, f.Image)
	}
}

// State returns the current playback state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns the loaded video's properties
func (c *Controller) Info() (frame.VideoInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.dec != nil
}

// Load opens path on a fresh decoder, releases the previous one and renders
// frame 0. On failure the previously loaded video stays loaded.
func (c *Controller) Load(ctx context.Context, path string) (frame.VideoInfo, error) {
	dec, err := c.opener.Open(ctx, path)
	if err != nil {
		return frame.VideoInfo{}, err
	}
	info := dec.Info()

	c.pause()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		dec.Release()
		return frame.VideoInfo{}, ErrControllerClosed
	}
	prev := c.dec
	c.dec = dec
	c.info = info
	c.state = State{TotalFrames: info.TotalFrames, FPS: info.FPS}
	c.lastDecoded = -1
	f, decErr := c.decodeLocked(ctx, 0)
	c.mu.Unlock()

	if prev != nil {
		prev.Release()
	}

	c.logger.WithVideoPath(path).WithFields(map[string]interface{}{
		"total_frames": info.TotalFrames,
		"fps":          info.FPS,
	}).Info("Video loaded")

	if decErr != nil {
		c.logger.WithVideoPath(path).WithError(decErr).Warn("Failed to render first frame")
		return info, nil
	}
	c.render(f)
	return info, nil
}

// Toggle flips between playing and paused
func (c *Controller) Toggle() (State, error) {
	c.mu.Lock()
	if c.dec == nil {
		c.mu.Unlock()
		return State{}, ErrNoVideo
	}
	playing := c.state.Playing
	c.mu.Unlock()

	if playing {
		c.pause()
	} else {
		c.play()
	}
	return c.State(), nil
}

func (c *Controller) play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Playing || c.dec == nil || c.closed {
		return
	}

	c.state.Playing = true
	c.stopTick = make(chan struct{})
	c.tickDone = make(chan struct{})
	go c.loop(c.stopTick, c.tickDone, TickPeriod(c.state.FPS))
}

// pause stops the ticker and waits for an in-flight tick to finish
func (c *Controller) pause() {
	c.mu.Lock()
	stop, done := c.stopTick, c.tickDone
	c.state.Playing = false
	c.stopTick, c.tickDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (c *Controller) loop(stop <-chan struct{}, done chan<- struct{}, period time.Duration) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.tick(stop) {
				return
			}
		}
	}
}

// tick advances one frame. It returns false once playback has stopped.
func (c *Controller) tick(stop <-chan struct{}) bool {
	start := time.Now()

	c.mu.Lock()
	select {
	case <-stop:
		c.mu.Unlock()
		return false
	default:
	}
	if !c.state.Playing {
		c.mu.Unlock()
		return false
	}

	if c.state.AtEnd() {
		c.endPlaybackLocked()
		c.mu.Unlock()
		return false
	}

	f, err := c.decodeLocked(c.ctx, c.state.CurrentIndex+1)
	if errors.Is(err, frame.ErrEndOfStream) {
		c.endPlaybackLocked()
		c.mu.Unlock()
		return false
	}
	if err != nil {
		// Keep the clock running past an undecodable frame
		c.state.CurrentIndex++
		skipped := c.state.CurrentIndex
		c.mu.Unlock()
		c.logger.WithError(err).WithField("index", skipped).Warn("Playback frame skipped")
		return true
	}
	c.mu.Unlock()

	c.render(f)
	metrics.RecordPlaybackTick(time.Since(start).Seconds())
	return true
}

// endPlaybackLocked pauses from inside the tick goroutine
func (c *Controller) endPlaybackLocked() {
	c.state.Playing = false
	c.stopTick, c.tickDone = nil, nil
}

// Scrub moves to index and renders it. It is ignored while playing.
func (c *Controller) Scrub(ctx context.Context, index int) (State, error) {
	c.mu.Lock()
	if c.dec == nil {
		c.mu.Unlock()
		return State{}, ErrNoVideo
	}
	if c.state.Playing {
		state := c.state
		c.mu.Unlock()
		return state, nil
	}
	if index < 0 {
		c.mu.Unlock()
		return State{}, fmt.Errorf("index %d is negative", index)
	}
	if c.state.TotalFrames > 0 && index > c.state.LastIndex() {
		last := c.state.LastIndex()
		c.mu.Unlock()
		return State{}, fmt.Errorf("index %d outside [0, %d]", index, last)
	}

	f, err := c.decodeLocked(ctx, index)
	if err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	state := c.state
	c.mu.Unlock()

	c.render(f)
	return state, nil
}

// Step advances one frame while paused and renders it
func (c *Controller) Step(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.dec == nil {
		c.mu.Unlock()
		return State{}, ErrNoVideo
	}
	if c.state.Playing || c.state.AtEnd() {
		state := c.state
		c.mu.Unlock()
		return state, nil
	}

	f, err := c.decodeLocked(ctx, c.state.CurrentIndex+1)
	if err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	state := c.state
	c.mu.Unlock()

	c.render(f)
	return state, nil
}

// Redraw decodes and renders the current frame again, for a viewer that
// just subscribed. It does nothing while playing.
func (c *Controller) Redraw(ctx context.Context) error {
	c.mu.Lock()
	if c.dec == nil {
		c.mu.Unlock()
		return ErrNoVideo
	}
	if c.state.Playing {
		c.mu.Unlock()
		return nil
	}

	f, err := c.decodeLocked(ctx, c.state.CurrentIndex)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.render(f)
	return nil
}

// decodeLocked decodes index, continuing the stream when it directly
// follows the last decoded frame. The position becomes the frame's index.
func (c *Controller) decodeLocked(ctx context.Context, index int) (*frame.Frame, error) {
	var (
		f   *frame.Frame
		err error
	)
	if c.lastDecoded >= 0 && index == c.lastDecoded+1 {
		f, err = c.dec.Next(ctx)
	} else {
		f, err = c.dec.SeekAndDecode(ctx, index)
	}
	if err != nil {
		c.lastDecoded = -1
		return nil, err
	}

	c.lastDecoded = f.Index
	c.state.CurrentIndex = f.Index
	return f, nil
}

// WithDecoder runs fn with exclusive use of the controller's decoder. The
// playback stream is re-seeked afterwards.
func (c *Controller) WithDecoder(fn func(dec frame.Decoder, state State) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dec == nil {
		return ErrNoVideo
	}

	c.lastDecoded = -1
	return fn(c.dec, c.state)
}

// Close stops playback and releases the decoder
func (c *Controller) Close() error {
	c.pause()
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.dec == nil {
		return nil
	}
	err := c.dec.Release()
	c.dec = nil
	c.state = State{}
	return err
}
