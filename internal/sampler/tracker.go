package sampler

// Tracker turns frame positions into a non-decreasing progress sequence.
type Tracker struct {
	rng  Range
	last int
	done bool
}

// NewTracker creates a tracker at 0%
func NewTracker(r Range) *Tracker {
	return &Tracker{rng: r}
}

// Advance returns the percent for current and true when it is greater than
// the last value reported. It never reports 100.
func (t *Tracker) Advance(current int) (int, bool) {
	if t.done {
		return t.last, false
	}
	p := t.rng.Percent(current)
	if p <= t.last {
		return t.last, false
	}
	t.last = p
	return p, true
}

// Finish moves the tracker to 100. Only the first call returns true.
func (t *Tracker) Finish() (int, bool) {
	if t.done {
		return 100, false
	}
	t.done = true
	t.last = 100
	return 100, true
}
