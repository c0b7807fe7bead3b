package frame

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality matches the usual encoder default for still exports
const DefaultJPEGQuality = 95

// FrameFileName is the batch export name for a frame index
func FrameFileName(index int) string {
	return fmt.Sprintf("frame_%06d.jpg", index)
}

// SnapshotFileName is the single capture name for a frame index
func SnapshotFileName(index int) string {
	return fmt.Sprintf("snapshot_%06d.jpg", index)
}

// EncodeJPEG writes img to w as a JPEG
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// SaveJPEG encodes img into dir/name, creating dir if needed. A partially
// written file is removed when encoding fails.
func SaveJPEG(dir, name string, img image.Image, quality int) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}

	if err := EncodeJPEG(file, img, quality); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	return path, nil
}

// Preview scales img down to fit inside width x height, keeping its aspect
// ratio. Images that already fit are returned unchanged.
func Preview(img image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		return img
	}
	return imaging.Fit(img, width, height, imaging.Lanczos)
}
