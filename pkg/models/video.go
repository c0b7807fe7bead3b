package models

import "time"

// Video describes a probed source video
type Video struct {
	Path        string        `json:"path"`
	Filename    string        `json:"filename"`
	Codec       string        `json:"codec"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	FrameRate   float64       `json:"frame_rate"`
	TotalFrames int           `json:"total_frames"`
	Duration    time.Duration `json:"duration"`
}

// Snapshot describes a single captured frame
type Snapshot struct {
	Index      int       `json:"index"`
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}
