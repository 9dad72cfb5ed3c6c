package medicine

import (
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
)

// State is a point-in-time view of a Medicine.
// It is a value type and safe to hand to other goroutines.
type State struct {
	ID           string
	EntityID     string
	Name         string
	Icon         string
	Dosage       string
	PatientID    string
	PatientName  string
	ScheduleTime string
	ScheduleDays []string
	TimeMode     string
	Due          logic.DueState
	History      []time.Time
	UpdatedAt    time.Time
}

// LastTaken returns the most recent taken instant.
func (s State) LastTaken() (time.Time, bool) {
	if len(s.History) == 0 {
		return time.Time{}, false
	}
	return s.History[len(s.History)-1], true
}

// HistoryStrings returns the persisted ISO-8601 form of the history.
func (s State) HistoryStrings() []string {
	return logic.NewHistory(s.History...).Strings()
}

// Persisted returns the restorable part of the state.
func (s State) Persisted() Persisted {
	return Persisted{History: s.HistoryStrings()}
}

// SameOutput reports whether two states would publish the same values.
func (s State) SameOutput(o State) bool {
	if s.Due.Label != o.Due.Label || s.Icon != o.Icon || !s.Due.NextDue.Equal(o.Due.NextDue) {
		return false
	}
	if len(s.History) != len(o.History) {
		return false
	}
	for i := range s.History {
		if !s.History[i].Equal(o.History[i]) {
			return false
		}
	}
	return true
}
