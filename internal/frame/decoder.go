// Package frame provides position-addressed access to the frames of a video
// file: probing, seeking, sequential decoding and JPEG encoding.
package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var (
	// ErrCannotOpen is returned when a path is not a decodable video
	ErrCannotOpen = errors.New("cannot open video source")
	// ErrDecodeFailed is returned when a frame could not be decoded
	ErrDecodeFailed = errors.New("frame decode failed")
	// ErrEndOfStream is returned once the source has no more frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrClosed is returned by a decoder after Release
	ErrClosed = errors.New("decoder released")
)

func init() {
	ffmpeg.LogCompiledCommand = false
}

// Frame is one decoded picture. Index is the source frame index the decoder
// actually produced, which may be later than the index that was requested.
type Frame struct {
	Index int
	Image image.Image
}

// Decoder is a stateful decode session over one video file. It is not safe
// for use by more than one caller; concurrent flows each open their own.
type Decoder interface {
	Info() VideoInfo
	// SeekAndDecode moves the cursor to index and decodes the frame there.
	SeekAndDecode(ctx context.Context, index int) (*Frame, error)
	// Next decodes the frame at the cursor and advances it by one.
	Next(ctx context.Context) (*Frame, error)
	// Release frees the session. It may be called more than once.
	Release() error
}

// Opener opens decode sessions
type Opener interface {
	Open(ctx context.Context, path string) (Decoder, error)
}

// session streams RGBA frames out of an ffmpeg process. A seek restarts the
// process at the new position.
type session struct {
	ff   *FFmpeg
	info VideoInfo

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   bytes.Buffer
	cancel   context.CancelFunc
	produced int

	cursor    int
	frameSize int
	closed    bool
}

func newSession(ff *FFmpeg, info VideoInfo) *session {
	return &session{
		ff:        ff,
		info:      info,
		frameSize: info.Width * info.Height * 4,
	}
}

func (s *session) Info() VideoInfo {
	return s.info
}

func (s *session) SeekAndDecode(ctx context.Context, index int) (*Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if index < 0 {
		index = 0
	}
	if err := s.start(index); err != nil {
		return nil, err
	}
	return s.read(ctx)
}

func (s *session) Next(ctx context.Context) (*Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.cmd == nil {
		if err := s.start(s.cursor); err != nil {
			return nil, err
		}
	}
	return s.read(ctx)
}

func (s *session) Release() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	return nil
}

// decodeArgs builds the ffmpeg command line for a stream starting at index
func (s *session) decodeArgs(index int) []string {
	input := ffmpeg.Input(s.info.Path)
	if s.ff.seekMode == SeekFast && index > 0 {
		input = ffmpeg.Input(s.info.Path, ffmpeg.KwArgs{
			"ss": fmt.Sprintf("%.3f", s.info.Timestamp(index).Seconds()),
		})
	} else if index > 0 {
		input = input.Filter("select", ffmpeg.Args{fmt.Sprintf("gte(n,%d)", index)})
	}

	output := input.Output("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", s.info.Width, s.info.Height),
		"vsync":   "passthrough",
		"an":      nil,
	})

	return append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, output.GetArgs()...)
}

func (s *session) start(index int) error {
	s.stop()

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.ff.ffmpegPath, s.decodeArgs(index)...)
	s.stderr.Reset()
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: failed to create stdout pipe: %v", ErrDecodeFailed, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrDecodeFailed, err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.cancel = cancel
	s.cursor = index
	s.produced = 0
	return nil
}

func (s *session) read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A blocked read only returns once the process dies, so cancellation
	// kills it. The next call restarts the stream at the cursor.
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	buf := make([]byte, s.frameSize)
	_, err := io.ReadFull(s.stdout, buf)
	if err != nil {
		waitErr := s.wait()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		switch {
		case errors.Is(err, io.EOF) && s.pastEnd():
			return nil, ErrEndOfStream
		case errors.Is(err, io.EOF) && waitErr != nil && s.produced == 0:
			return nil, fmt.Errorf("%w at frame %d: %v, stderr: %s", ErrDecodeFailed, s.cursor, waitErr, s.stderr.String())
		case errors.Is(err, io.EOF):
			return nil, ErrEndOfStream
		default:
			return nil, fmt.Errorf("%w at frame %d: %v", ErrDecodeFailed, s.cursor, err)
		}
	}

	img := &image.RGBA{
		Pix:    buf,
		Stride: 4 * s.info.Width,
		Rect:   image.Rect(0, 0, s.info.Width, s.info.Height),
	}
	f := &Frame{Index: s.cursor, Image: img}
	s.cursor++
	s.produced++
	return f, nil
}

// pastEnd reports whether the cursor is beyond the probed frame count.
// Some ffmpeg builds exit non-zero when a filter yields no frames at all.
func (s *session) pastEnd() bool {
	return s.info.TotalFrames > 0 && s.cursor >= s.info.TotalFrames
}

// wait reaps the current process and forgets it
func (s *session) wait() error {
	if s.cmd == nil {
		return nil
	}
	err := s.cmd.Wait()
	s.cancel()
	s.cmd = nil
	s.stdout = nil
	return err
}

func (s *session) stop() {
	if s.cmd == nil {
		return
	}
	s.cancel()
	s.cmd.Wait()
	s.cmd = nil
	s.stdout = nil
}
