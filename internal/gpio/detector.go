package gpio

import (
	"sort"
	"time"
)

// lineState is the debounce state of one button.
type lineState struct {
	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
	baselined    bool
}

// Detector tracks button lines and detects debounced presses.
// A line must hold one value for the debounce duration before it is
// baselined; presses are only reported after that.
type Detector struct {
	debounce time.Duration
	lines    map[int]*lineState
}

// NewDetector creates a press detector with the given debounce duration.
func NewDetector(debounce time.Duration) *Detector {
	return &Detector{debounce: debounce, lines: make(map[int]*lineState)}
}

// Process takes a new sample and returns the pins that completed a
// released-to-pressed transition, in ascending order.
func (d *Detector) Process(now time.Time, sample map[int]bool) []int {
	var pressed []int
	for pin, v := range sample {
		ls, ok := d.lines[pin]
		if !ok {
			ls = &lineState{}
			d.lines[pin] = ls
		}
		if d.processLine(ls, v, now) && ls.stable {
			pressed = append(pressed, pin)
		}
	}
	sort.Ints(pressed)
	return pressed
}

// processLine handles debounce logic for a single line.
// Returns true if a stable transition occurred.
func (d *Detector) processLine(ls *lineState, v bool, now time.Time) bool {
	// First time seeing this line
	if !ls.baselined {
		if !ls.hasPending || ls.pending != v {
			// Start observing, or restart after a change during baseline
			ls.pending = v
			ls.hasPending = true
			ls.pendingSince = now
			return false
		}
		if now.Sub(ls.pendingSince) >= d.debounce {
			ls.stable = v
			ls.baselined = true
			ls.hasPending = false
		}
		return false
	}

	if v == ls.stable {
		// No change from stable state, clear any pending
		ls.hasPending = false
		return false
	}

	if !ls.hasPending || ls.pending != v {
		ls.pending = v
		ls.hasPending = true
		ls.pendingSince = now
		return false
	}

	// Same pending state, check debounce
	if now.Sub(ls.pendingSince) >= d.debounce {
		ls.stable = v
		ls.hasPending = false
		return true
	}
	return false
}

// Baselined reports whether every seen line has a stable value.
func (d *Detector) Baselined() bool {
	if len(d.lines) == 0 {
		return false
	}
	for _, ls := range d.lines {
		if !ls.baselined {
			return false
		}
	}
	return true
}
