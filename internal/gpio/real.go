//go:build linux

package gpio

import (
	"fmt"
	"sort"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads buttons from actual hardware using the Linux GPIO character device.
// Buttons connect the line to 3.3V, so raw active (1) means pressed.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealReader requests every pin on the named chip as a pulled-down input.
func NewRealReader(chipName string, pins []int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	r := &RealReader{chip: chip, lines: make(map[int]*gpiocdev.Line, len(pins))}
	sorted := append([]int(nil), pins...)
	sort.Ints(sorted)
	for _, pin := range sorted {
		// Pull-down matches the Pi boot default and keeps idle buttons at 0.
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		r.lines[pin] = line
	}
	return r, nil
}

// Read returns the pressed state of every line.
func (r *RealReader) Read() (map[int]bool, error) {
	out := make(map[int]bool, len(r.lines))
	for pin, line := range r.lines {
		v, err := line.Value()
		if err != nil {
			return nil, fmt.Errorf("read pin %d: %w", pin, err)
		}
		out[pin] = v == 1
	}
	return out, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	for pin, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
