// Package sampler computes which frame indices a batch extraction exports
// and how far through its range a job has progressed.
package sampler

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidRange is returned by Validate for ranges a job must not start with
var ErrInvalidRange = errors.New("invalid frame range")

// Range selects every Stride-th frame in [Start, End], counted from Start.
type Range struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Stride int `json:"stride"`
}

// Full returns the range covering every frame of a video with totalFrames
// frames at the given stride.
func Full(totalFrames, stride int) Range {
	end := totalFrames - 1
	if end < 0 {
		end = 0
	}
	return Range{Start: 0, End: end, Stride: stride}
}

// Validate checks 0 <= Start <= End < totalFrames and Stride >= 1.
// A non-positive totalFrames skips the upper bound check.
func (r Range) Validate(totalFrames int) error {
	switch {
	case r.Stride < 1:
		return fmt.Errorf("%w: stride must be at least 1, got %d", ErrInvalidRange, r.Stride)
	case r.Start < 0:
		return fmt.Errorf("%w: start must not be negative, got %d", ErrInvalidRange, r.Start)
	case r.End < r.Start:
		return fmt.Errorf("%w: end %d is before start %d", ErrInvalidRange, r.End, r.Start)
	case totalFrames > 0 && r.End >= totalFrames:
		return fmt.Errorf("%w: end %d is past the last frame %d", ErrInvalidRange, r.End, totalFrames-1)
	}
	return nil
}

// Empty reports whether the range selects no frames
func (r Range) Empty() bool {
	return r.Stride < 1 || r.End < r.Start
}

// Count returns floor((End-Start)/Stride)+1, or 0 for an empty range.
func (r Range) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.End-r.Start)/r.Stride + 1
}

// Sampled reports whether index falls inside the range on a stride boundary.
func (r Range) Sampled(index int) bool {
	if r.Empty() || index < r.Start || index > r.End {
		return false
	}
	return (index-r.Start)%r.Stride == 0
}

// Indices yields the sampled indices in increasing order. The sequence can
// be ranged over any number of times.
func (r Range) Indices() iter.Seq[int] {
	return func(yield func(int) bool) {
		if r.Empty() {
			return
		}
		for i := r.Start; i <= r.End; i += r.Stride {
			if !yield(i) {
				return
			}
		}
	}
}

// Percent maps current to progress through the range, clamped to [0, 99].
// 100 is reserved for the terminal update. An empty range reports 0.
func (r Range) Percent(current int) int {
	if r.End < r.Start {
		return 0
	}
	span := r.End - r.Start
	if span < 1 {
		span = 1
	}
	p := (current - r.Start) * 100 / span
	return clamp(p, 0, MaxRunningPercent)
}

// MaxRunningPercent is the highest percent reported before completion
const MaxRunningPercent = 99

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
