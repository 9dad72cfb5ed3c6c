package logic

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// HistoryLimit is the number of taken events kept per schedule.
const HistoryLimit = 10

// InstantLayout is the persisted ISO-8601 form of history entries.
const InstantLayout = time.RFC3339Nano

// zonedLayouts are accepted for timestamps carrying an offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// naiveLayouts are accepted for timestamps without zone information.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// History is the bounded, ascending log of taken instants.
// The zero value is an empty history.
type History struct {
	entries []time.Time
}

// NewHistory builds a history from unordered entries, keeping the newest HistoryLimit.
func NewHistory(entries ...time.Time) History {
	var h History
	h.entries = append(h.entries, entries...)
	h.normalize()
	return h
}

// Add appends a taken instant, then sorts and truncates.
func (h *History) Add(t time.Time) {
	h.entries = append(h.entries, t)
	h.normalize()
}

// Reset clears the history.
func (h *History) Reset() {
	h.entries = nil
}

func (h *History) normalize() {
	sort.SliceStable(h.entries, func(i, j int) bool {
		return h.entries[i].Before(h.entries[j])
	})
	if n := len(h.entries); n > HistoryLimit {
		h.entries = append([]time.Time(nil), h.entries[n-HistoryLimit:]...)
	}
}

// Last returns the most recent taken instant.
func (h History) Last() (time.Time, bool) {
	if len(h.entries) == 0 {
		return time.Time{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Len returns the number of entries.
func (h History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the entries in ascending order.
func (h History) Entries() []time.Time {
	if len(h.entries) == 0 {
		return nil
	}
	return append([]time.Time(nil), h.entries...)
}

// Strings returns the persisted form of the history.
func (h History) Strings() []string {
	if len(h.entries) == 0 {
		return nil
	}
	out := make([]string, len(h.entries))
	for i, t := range h.entries {
		out[i] = t.Format(InstantLayout)
	}
	return out
}

// RestoreHistory rebuilds a history from persisted strings. Malformed entries
// are dropped. When raw is empty, a legacy single lastTaken value seeds a
// one-element history. Naive timestamps are read in def.
func RestoreHistory(raw []string, lastTaken string, def *time.Location) History {
	if len(raw) == 0 && strings.TrimSpace(lastTaken) != "" {
		raw = []string{lastTaken}
	}
	var entries []time.Time
	for _, s := range raw {
		t, err := ParseInstant(s, def)
		if err != nil {
			continue
		}
		entries = append(entries, t)
	}
	return NewHistory(entries...)
}

// ParseInstant parses an ISO-8601 timestamp. A timestamp without zone
// information is interpreted in def.
func ParseInstant(s string, def *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if def == nil {
		def = time.UTC
	}
	var err error
	for _, layout := range zonedLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if nt, nerr := time.ParseInLocation(layout, s, def); nerr == nil {
			return nt, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse instant %q: %w", s, err)
}
