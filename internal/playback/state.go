package playback

import (
	"fmt"
	"time"
)

// State is the position and play status of a controller
type State struct {
	CurrentIndex int     `json:"current_index"`
	Playing      bool    `json:"playing"`
	TotalFrames  int     `json:"total_frames"`
	FPS          float64 `json:"fps"`
}

// LastIndex returns the highest frame index, or -1 when the frame count is
// unknown
func (s State) LastIndex() int {
	return s.TotalFrames - 1
}

// AtEnd reports whether CurrentIndex is the last frame. It is always false
// when the frame count is unknown; the stream end is found by decoding.
func (s State) AtEnd() bool {
	return s.TotalFrames > 0 && s.CurrentIndex >= s.LastIndex()
}

// Timecode formats the current and final positions as "mm:ss / mm:ss"
func (s State) Timecode() string {
	if s.FPS <= 0 {
		return "00:00 / 00:00"
	}
	cur := int(float64(s.CurrentIndex) / s.FPS)
	total := 0
	if s.TotalFrames > 0 {
		total = int(float64(s.LastIndex()) / s.FPS)
	}
	return fmt.Sprintf("%02d:%02d / %02d:%02d", cur/60, cur%60, total/60, total%60)
}

// TickPeriod is the interval between playback steps at fps
func TickPeriod(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second / 30
	}
	period := time.Duration(1000/fps) * time.Millisecond
	if period < time.Millisecond {
		period = time.Millisecond
	}
	return period
}
