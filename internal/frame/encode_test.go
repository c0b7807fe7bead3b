package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	return img
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "frame_000000.jpg", FrameFileName(0))
	assert.Equal(t, "frame_000090.jpg", FrameFileName(90))
	assert.Equal(t, "snapshot_000050.jpg", SnapshotFileName(50))
	assert.Equal(t, "frame_1234567.jpg", FrameFileName(1234567))
}

func TestEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, solid(16, 8), 0))

	decoded, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 8, decoded.Bounds().Dy())
}

func TestSaveJPEGCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "frames_output")

	path, err := SaveJPEG(dir, FrameFileName(7), solid(4, 4), 90)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "frame_000007.jpg"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveJPEGDirectoryIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := SaveJPEG(blocker, FrameFileName(1), solid(4, 4), 90)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output directory")
}

func TestPreview(t *testing.T) {
	small := solid(10, 10)
	assert.Same(t, small, Preview(small, 100, 100))

	scaled := Preview(solid(400, 200), 100, 100)
	assert.Equal(t, 100, scaled.Bounds().Dx())
	assert.Equal(t, 50, scaled.Bounds().Dy())

	assert.Same(t, small, Preview(small, 0, 0))
}
