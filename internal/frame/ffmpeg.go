package frame

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/frameflow/pkg/models"
)

// DefaultFPS is used when a source reports no usable frame rate
const DefaultFPS = 30.0

// Seek modes
const (
	// SeekExact decodes from the start of the file and drops frames until
	// the requested index, so the first frame returned is exactly that index.
	SeekExact = "exact"
	// SeekFast seeks the demuxer to the frame's timestamp. It is much
	// quicker on long files but may land on a nearby frame. The decoder
	// cannot tell which frame it landed on, so frames are labelled from the
	// requested index and a saved frame_NNNNNN.jpg may hold a neighbour.
	SeekFast = "fast"
)

// FFmpeg opens decode sessions backed by ffmpeg and ffprobe subprocesses
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	seekMode    string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath, seekMode string) *FFmpeg {
	if seekMode != SeekFast {
		seekMode = SeekExact
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		seekMode:    seekMode,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// VideoInfo is what a decode session knows about its source
type VideoInfo struct {
	Path        string
	Codec       string
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
	Duration    time.Duration
}

// Timestamp returns the presentation time of a frame index
func (v VideoInfo) Timestamp(index int) time.Duration {
	return time.Duration(float64(index) / v.FPS * float64(time.Second))
}

// Model converts the info to its API representation
func (v VideoInfo) Model() models.Video {
	return models.Video{
		Path:        v.Path,
		Filename:    filepath.Base(v.Path),
		Codec:       v.Codec,
		Width:       v.Width,
		Height:      v.Height,
		FrameRate:   v.FPS,
		TotalFrames: v.TotalFrames,
		Duration:    v.Duration,
	}
}

// ProbeVideo extracts metadata from a video file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Probe reports the stream properties a decode session over path would use.
func (f *FFmpeg) Probe(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %s: %v", ErrCannotOpen, path, err)
	}

	metadata, err := f.ProbeVideo(ctx, path)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %s: %v", ErrCannotOpen, path, err)
	}

	info, err := videoInfoFromMetadata(path, metadata)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %s: %v", ErrCannotOpen, path, err)
	}
	return info, nil
}

// Open probes path and returns a decode session positioned before frame 0.
func (f *FFmpeg) Open(ctx context.Context, path string) (Decoder, error) {
	info, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return newSession(f, info), nil
}

func videoInfoFromMetadata(path string, metadata *VideoMetadata) (VideoInfo, error) {
	var stream *StreamInfo
	for i := range metadata.Streams {
		if metadata.Streams[i].CodecType == "video" {
			stream = &metadata.Streams[i]
			break
		}
	}
	if stream == nil {
		return VideoInfo{}, fmt.Errorf("no video stream")
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("video stream has no dimensions")
	}

	fps := parseFrameRate(stream.AvgFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(stream.FrameRate)
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	seconds, _ := strconv.ParseFloat(metadata.Format.Duration, 64)
	if seconds <= 0 {
		seconds, _ = strconv.ParseFloat(stream.Duration, 64)
	}

	total, _ := strconv.Atoi(stream.NbFrames)
	if total <= 0 && seconds > 0 {
		total = int(math.Round(seconds * fps))
	}

	return VideoInfo{
		Path:        path,
		Codec:       stream.CodecName,
		Width:       stream.Width,
		Height:      stream.Height,
		FPS:         fps,
		TotalFrames: total,
		Duration:    time.Duration(seconds * float64(time.Second)),
	}, nil
}

// parseFrameRate parses ffprobe rates such as "30000/1001"
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
