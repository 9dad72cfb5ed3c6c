package gpio

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// Buttons polls a Reader and emits a take command for every debounced press.
type Buttons struct {
	reader   Reader
	targets  map[int]string
	poll     time.Duration
	detector *Detector
	log      zerolog.Logger
	now      func() time.Time
}

// NewButtons maps each pin to the medicine target it marks as taken.
func NewButtons(reader Reader, targets map[int]string, poll, debounce time.Duration, log zerolog.Logger) *Buttons {
	cp := make(map[int]string, len(targets))
	for pin, target := range targets {
		cp[pin] = target
	}
	return &Buttons{
		reader:   reader,
		targets:  cp,
		poll:     poll,
		detector: NewDetector(debounce),
		log:      log.With().Str("component", "gpio").Logger(),
		now:      time.Now,
	}
}

// Pins returns the configured pins in ascending order.
func (b *Buttons) Pins() []int {
	pins := make([]int, 0, len(b.targets))
	for pin := range b.targets {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}

// Step reads once and returns the commands for completed presses.
func (b *Buttons) Step(now time.Time) ([]medicine.Command, error) {
	sample, err := b.reader.Read()
	if err != nil {
		return nil, err
	}
	var cmds []medicine.Command
	for _, pin := range b.detector.Process(now, sample) {
		target, ok := b.targets[pin]
		if !ok {
			continue
		}
		b.log.Info().Int("pin", pin).Str("target", target).Msg("button pressed")
		cmds = append(cmds, medicine.Command{
			Action:  medicine.ActionTake,
			Targets: []string{target},
			At:      now,
			Source:  "button",
		})
	}
	return cmds, nil
}

// Run polls until ctx is done. Read errors are logged once per streak.
func (b *Buttons) Run(ctx context.Context, out chan<- medicine.Command) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cmds, err := b.Step(b.now())
		if err != nil {
			if !failing {
				b.log.Error().Err(err).Msg("gpio read failed")
				failing = true
			}
			continue
		}
		failing = false
		for _, cmd := range cmds {
			select {
			case out <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
