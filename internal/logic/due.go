package logic

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// starBit marks a cron field that was given as "*".
const starBit = 1 << 63

// ComputationError wraps any failure while computing a DueState.
type ComputationError struct {
	Cause error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("compute due state: %v", e.Cause)
}

func (e *ComputationError) Unwrap() error {
	return e.Cause
}

// Recompute resolves the effective zone, evaluates the schedule at clock and
// collapses any failure into ErrorState. The returned error is for logging
// only; the DueState is always valid.
func Recompute(s Schedule, h History, clock time.Time, src ZoneSource, def *time.Location) (DueState, error) {
	loc := ResolveLocation(s, src, def)
	last, _ := h.Last()
	state, err := Evaluate(s, last, clock.In(loc))
	if err != nil {
		return ErrorState(), err
	}
	return state, nil
}

// Evaluate computes the DueState at now, which must already be in the
// effective zone. A zero lastTaken means nothing has been taken.
func Evaluate(s Schedule, lastTaken, now time.Time) (state DueState, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = DueState{}
			err = &ComputationError{Cause: fmt.Errorf("panic: %v", r)}
		}
	}()

	next, err := NextDue(now, s, lastTaken)
	if err != nil {
		return DueState{}, &ComputationError{Cause: err}
	}
	return Classify(next, now), nil
}

// NextDue returns the next due instant in now's location, or the zero time
// when the day filter can never match.
func NextDue(now time.Time, s Schedule, lastTaken time.Time) (time.Time, error) {
	if err := s.Time.Validate(); err != nil {
		return time.Time{}, err
	}
	loc := now.Location()
	todayDue := atTimeOfDay(now, s.Time)

	takenToday := !lastTaken.IsZero() && sameDate(lastTaken.In(loc), now)
	if takenToday {
		return nextScheduledDay(now, s)
	}

	if len(s.Days) > 0 && !scheduledOn(s.Days, now.Weekday()) {
		return nextScheduledDay(now, s)
	}
	// Both "not yet due" and "overdue today" use today's slot.
	return todayDue, nil
}

// nextScheduledDay finds the first scheduled day after now's date and
// returns it at the schedule's time of day.
func nextScheduledDay(now time.Time, s Schedule) (time.Time, error) {
	loc := now.Location()
	y, m, d := now.Date()
	endOfDay := time.Date(y, m, d, 23, 59, 59, 0, loc)

	day := dayRule(s.Days, loc).Next(endOfDay)
	if day.IsZero() {
		return time.Time{}, nil
	}
	return atTimeOfDay(day.In(loc), s.Time), nil
}

// dayRule builds a schedule that fires every second of every scheduled day.
// Unrecognized tokens contribute nothing; a non-empty list with no valid
// token never matches, and Next reports that as the zero time.
func dayRule(days []string, loc *time.Location) *cron.SpecSchedule {
	dow := uint64(bitRange(0, 6) | starBit)
	if len(days) > 0 {
		dow = 0
		for _, tok := range days {
			if wd, ok := ParseWeekday(tok); ok {
				dow |= 1 << uint(wd)
			}
		}
	}
	return &cron.SpecSchedule{
		Second:   bitRange(0, 59),
		Minute:   bitRange(0, 59),
		Hour:     bitRange(0, 23),
		Dom:      bitRange(1, 31) | starBit,
		Month:    bitRange(1, 12) | starBit,
		Dow:      dow,
		Location: loc,
	}
}

func bitRange(min, max uint) uint64 {
	var bits uint64
	for i := min; i <= max; i++ {
		bits |= 1 << i
	}
	return bits
}

func scheduledOn(days []string, wd time.Weekday) bool {
	for _, tok := range days {
		if d, ok := ParseWeekday(tok); ok && d == wd {
			return true
		}
	}
	return false
}

// Classify maps a next due instant to its status label and icon.
func Classify(next, now time.Time) DueState {
	if next.IsZero() {
		return UnknownState()
	}
	next = next.In(now.Location())

	var kind Kind
	var label string
	switch {
	case next.Before(now):
		kind, label = KindOverdue, "Overdue"
	case sameDate(next, now):
		kind, label = KindDueToday, "Due at "+clockLabel(next)
	case sameDate(next, addDays(now, 1)):
		kind, label = KindDueTomorrow, "Due Tomorrow"
	default:
		kind, label = KindDueLater, "Due "+next.Weekday().String()
	}
	return DueState{NextDue: next, Kind: kind, Label: label, Icon: kind.Icon()}
}

// clockLabel formats a 12-hour clock time, omitting ":00" minutes.
func clockLabel(t time.Time) string {
	if t.Minute() == 0 {
		return t.Format("3 PM")
	}
	return t.Format("3:04 PM")
}

// atTimeOfDay returns tod on t's calendar date. A wall time skipped by a
// DST gap is shifted forward by the gap, so the date never moves back.
func atTimeOfDay(t time.Time, tod TimeOfDay) time.Time {
	y, m, d := t.Date()
	at := time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, t.Location())
	if sameDate(at, t) {
		return at
	}
	// time.Date resolved the gap onto the previous day. Reading the wall
	// time with that instant's offset lands past the transition instead.
	_, offset := at.Zone()
	wall := time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, time.UTC)
	return wall.Add(-time.Duration(offset) * time.Second).In(t.Location())
}

// addDays moves by calendar days; noon avoids DST edges.
func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 12, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
