package snapshot

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/playback"
)

// stubDecoder lands offset frames after any requested index
type stubDecoder struct {
	total  int
	offset int
	err    error
	seeks  []int
}

func (d *stubDecoder) Info() frame.VideoInfo {
	return frame.VideoInfo{Path: "clip.mp4", TotalFrames: d.total, FPS: 25, Width: 8, Height: 6}
}

func (d *stubDecoder) SeekAndDecode(ctx context.Context, index int) (*frame.Frame, error) {
	d.seeks = append(d.seeks, index)
	if d.err != nil {
		return nil, d.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return &frame.Frame{Index: index + d.offset, Image: img}, nil
}

func (d *stubDecoder) Next(ctx context.Context) (*frame.Frame, error) {
	return nil, frame.ErrEndOfStream
}

func (d *stubDecoder) Release() error { return nil }

type stubOpener struct{ dec *stubDecoder }

func (o stubOpener) Open(ctx context.Context, path string) (frame.Decoder, error) {
	return o.dec, nil
}

type recordingUploader struct {
	keys []string
	err  error
}

func (u *recordingUploader) UploadFile(ctx context.Context, key, filePath string) error {
	u.keys = append(u.keys, key)
	return u.err
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCaptureCreatesDirectoryAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames_output")
	c := NewCapturer(90, logging.Nop())

	snap, err := c.Capture(context.Background(), &stubDecoder{total: 100}, 50, dir)
	require.NoError(t, err)

	assert.Equal(t, 50, snap.Index)
	assert.Equal(t, filepath.Join(dir, "snapshot_000050.jpg"), snap.Path)
	assert.Equal(t, []string{"snapshot_000050.jpg"}, listDir(t, dir))

	data, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestCaptureNamesFileAfterReturnedIndex(t *testing.T) {
	dir := t.TempDir()
	c := NewCapturer(0, nil)

	snap, err := c.Capture(context.Background(), &stubDecoder{total: 100, offset: 2}, 50, dir)
	require.NoError(t, err)
	assert.Equal(t, 52, snap.Index)
	assert.Equal(t, []string{"snapshot_000052.jpg"}, listDir(t, dir))
}

func TestCaptureWithoutVideo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	c := NewCapturer(90, logging.Nop())

	_, err := c.Capture(context.Background(), nil, 10, dir)
	assert.ErrorIs(t, err, ErrNoVideo)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCaptureDecodeFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	c := NewCapturer(90, logging.Nop())

	_, err := c.Capture(context.Background(), &stubDecoder{err: frame.ErrDecodeFailed}, 3, dir)
	assert.ErrorIs(t, err, frame.ErrDecodeFailed)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCaptureMirrors(t *testing.T) {
	c := NewCapturer(90, logging.Nop())
	up := &recordingUploader{}
	c.MirrorTo(up)

	_, err := c.Capture(context.Background(), &stubDecoder{total: 10}, 4, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/snapshot_000004.jpg"}, up.keys)

	up.err = errors.New("bucket gone")
	_, err = c.Capture(context.Background(), &stubDecoder{total: 10}, 5, t.TempDir())
	assert.NoError(t, err)
}

func TestCaptureCurrent(t *testing.T) {
	dec := &stubDecoder{total: 100}
	ctrl := playback.NewController(stubOpener{dec: dec}, logging.Nop())
	defer ctrl.Close()
	c := NewCapturer(90, logging.Nop())
	dir := t.TempDir()

	_, err := c.CaptureCurrent(context.Background(), ctrl, dir)
	assert.ErrorIs(t, err, ErrNoVideo)

	ctx := context.Background()
	_, err = ctrl.Load(ctx, "clip.mp4")
	require.NoError(t, err)
	_, err = ctrl.Scrub(ctx, 42)
	require.NoError(t, err)

	snap, err := c.CaptureCurrent(ctx, ctrl, dir)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.Index)
	assert.Equal(t, []string{"snapshot_000042.jpg"}, listDir(t, dir))
}
