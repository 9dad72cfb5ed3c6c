// Package logic contains the pure due-date scheduling core for medicine tracking.
// This package has NO I/O dependencies (no MQTT, storage, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is the daily dose time. Seconds are always zero.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// DefaultTimeOfDay is used when a schedule has no parseable time.
var DefaultTimeOfDay = TimeOfDay{Hour: 8, Minute: 0}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". Seconds are discarded.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// Validate reports whether the hour and minute are in range.
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour %d out of range", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute %d out of range", t.Minute)
	}
	return nil
}

// String formats as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TimezoneMode selects how the effective timezone is resolved.
type TimezoneMode string

const (
	// ModeFixed always uses the system default zone ("home time").
	ModeFixed TimezoneMode = "home_time"
	// ModeFollowExternal reads the zone name from an external sensor ("local time").
	ModeFollowExternal TimezoneMode = "local_time"
)

// Schedule is the immutable per-evaluation schedule definition.
type Schedule struct {
	Time TimeOfDay
	// Days holds weekday tokens (mon..sun). Empty means every day.
	Days []string
	Mode TimezoneMode
	// ZoneSource references the external zone-name provider.
	// Only consulted when Mode is ModeFollowExternal.
	ZoneSource string
}

// weekdayTokens maps schedule day tokens to weekdays.
var weekdayTokens = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// WeekdayToken returns the schedule token for a weekday ("mon".."sun").
func WeekdayToken(d time.Weekday) string {
	return strings.ToLower(d.String()[:3])
}

// ParseWeekday resolves a day token. Tokens are case-insensitive.
func ParseWeekday(token string) (time.Weekday, bool) {
	d, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(token))]
	return d, ok
}

// Kind is the status category of a DueState.
type Kind string

const (
	KindOverdue     Kind = "overdue"
	KindDueToday    Kind = "due_today"
	KindDueTomorrow Kind = "due_tomorrow"
	KindDueLater    Kind = "due_later"
	KindUnknown     Kind = "unknown"
	KindError       Kind = "error"
)

// Icon returns the icon hint for a status category.
func (k Kind) Icon() string {
	switch k {
	case KindOverdue:
		return "mdi:alert-circle"
	case KindDueToday:
		return "mdi:clock-outline"
	case KindDueTomorrow:
		return "mdi:calendar-arrow-right"
	case KindDueLater:
		return "mdi:calendar"
	case KindError:
		return "mdi:alert"
	default:
		return "mdi:help-circle"
	}
}

// DueState is the derived state of a schedule. It is never stored on its own.
type DueState struct {
	// NextDue is the zero time when absent.
	NextDue time.Time
	Kind    Kind
	Label   string
	Icon    string
}

// HasNextDue reports whether a next due instant was computed.
func (s DueState) HasNextDue() bool {
	return !s.NextDue.IsZero()
}

// UnknownState is the state before the first computation.
func UnknownState() DueState {
	return DueState{Kind: KindUnknown, Label: "Unknown", Icon: KindUnknown.Icon()}
}

// ErrorState is the fail-soft state for a computation error.
func ErrorState() DueState {
	return DueState{Kind: KindError, Label: "Error", Icon: KindError.Icon()}
}
