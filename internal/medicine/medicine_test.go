package medicine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/logic"
)

var home = time.FixedZone("HOME", 0)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type zones map[string]string

func (z zones) Lookup(ref string) (string, bool) {
	v, ok := z[ref]
	return v, ok
}

func testEnv() Env {
	return Env{DefaultLocation: home, Logger: zerolog.Nop(), Zones: zones{}}
}

func vitaminC() Config {
	return Config{
		ID:        "med1",
		Name:      "Vitamin C",
		Dosage:    "500mg",
		PatientID: "person.test_user",
		Schedule:  logic.Schedule{Time: logic.TimeOfDay{Hour: 8}, Mode: logic.ModeFixed},
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Vitamin C":      "vitamin_c",
		"Morning Pill":   "morning_pill",
		"  Omega-3 (1g)": "omega_3_1g",
		"ALL CAPS!":      "all_caps",
		"":               "",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q): got %q, want %q", in, got, want)
		}
	}
	if got := vitaminC().EntityID(); got != "sensor.vitamin_c" {
		t.Errorf("EntityID: got %q", got)
	}
}

func TestNewMedicineDefaults(t *testing.T) {
	m := New(vitaminC(), testEnv())
	s := m.State()
	if s.Icon != DefaultIcon {
		t.Errorf("icon before first refresh: got %q, want %q", s.Icon, DefaultIcon)
	}
	if s.Due.Label != "Unknown" {
		t.Errorf("label before first refresh: got %q", s.Due.Label)
	}
	if s.ScheduleTime != "08:00" {
		t.Errorf("schedule time: got %q", s.ScheduleTime)
	}
	if _, ok := s.LastTaken(); ok {
		t.Error("expected no last taken")
	}
}

func TestMarkTakenFlow(t *testing.T) {
	m := New(vitaminC(), testEnv())
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, home)

	s := m.Refresh(now)
	if s.Due.Label != "Overdue" {
		t.Fatalf("initial: got %q, want Overdue", s.Due.Label)
	}
	if s.Icon != "mdi:alert-circle" {
		t.Errorf("icon: got %q", s.Icon)
	}

	s = m.MarkTaken(time.Time{}, now)
	if s.Due.Label != "Due Tomorrow" {
		t.Errorf("after take: got %q, want Due Tomorrow", s.Due.Label)
	}
	if len(s.History) != 1 || !s.History[0].Equal(now) {
		t.Errorf("history: got %v", s.History)
	}
	last, ok := s.LastTaken()
	if !ok || !last.Equal(now) {
		t.Errorf("last taken: got %v", last)
	}

	s = m.ResetHistory(now)
	if s.Due.Label != "Overdue" {
		t.Errorf("after reset: got %q, want Overdue", s.Due.Label)
	}
	if len(s.History) != 0 {
		t.Errorf("history after reset: got %v", s.History)
	}
}

func TestMarkTakenExplicitTime(t *testing.T) {
	m := New(vitaminC(), testEnv())
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, home)
	yesterday := time.Date(2024, 1, 1, 8, 0, 0, 0, home)

	s := m.MarkTaken(yesterday, now)
	if !s.History[0].Equal(yesterday) {
		t.Errorf("history: got %v", s.History)
	}
	if s.Due.Label != "Overdue" {
		t.Errorf("taking yesterday's dose leaves today overdue, got %q", s.Due.Label)
	}
}

func TestRestoreHistoryAndLegacy(t *testing.T) {
	m := New(vitaminC(), testEnv())
	m.Restore(Persisted{History: []string{"2024-01-01T08:05:00Z", "garbage", "2023-12-31T08:00:00Z"}})
	s := m.State()
	if len(s.History) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(s.History))
	}
	if !s.History[0].Before(s.History[1]) {
		t.Error("history should be ascending")
	}

	m2 := New(vitaminC(), testEnv())
	m2.Restore(Persisted{LastTaken: "2024-01-01T08:05:00"})
	s2 := m2.Refresh(time.Date(2024, 1, 1, 9, 0, 0, 0, home))
	if len(s2.History) != 1 {
		t.Fatalf("expected legacy entry, got %v", s2.History)
	}
	if s2.Due.Label != "Due Tomorrow" {
		t.Errorf("label: got %q, want Due Tomorrow", s2.Due.Label)
	}
}

func TestRefreshErrorState(t *testing.T) {
	cfg := vitaminC()
	cfg.Schedule.Time = logic.TimeOfDay{Hour: 30}
	m := New(cfg, testEnv())
	s := m.Refresh(time.Date(2024, 1, 1, 9, 0, 0, 0, home))
	if s.Due.Label != "Error" {
		t.Errorf("label: got %q, want Error", s.Due.Label)
	}
	if s.Icon != "mdi:alert" {
		t.Errorf("icon: got %q, want mdi:alert", s.Icon)
	}
}

func TestHistoryCappedThroughEntity(t *testing.T) {
	m := New(vitaminC(), testEnv())
	now := time.Date(2024, 1, 20, 9, 0, 0, 0, home)
	for i := 0; i < 25; i++ {
		s := m.MarkTaken(now.AddDate(0, 0, -i), now)
		if len(s.History) > logic.HistoryLimit {
			t.Fatalf("history length %d after %d marks", len(s.History), i+1)
		}
	}
	s := m.State()
	last, _ := s.LastTaken()
	if !last.Equal(now) {
		t.Errorf("last taken: got %v, want %v", last, now)
	}
}

func TestStateSnapshotIsCopy(t *testing.T) {
	cfg := vitaminC()
	cfg.Schedule.Days = []string{"mon"}
	m := New(cfg, testEnv())
	s := m.State()
	s.ScheduleDays[0] = "tue"
	if m.State().ScheduleDays[0] != "mon" {
		t.Error("mutating a snapshot changed the entity")
	}
}
