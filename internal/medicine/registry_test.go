package medicine

import (
	"testing"
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
)

func twoMedicines() []Config {
	a := vitaminC()
	b := Config{
		ID:       "med2",
		Name:     "Weekly Pill",
		Schedule: logic.Schedule{Time: logic.TimeOfDay{Hour: 8}, Days: []string{"wed"}},
	}
	return []Config{a, b}
}

func TestRegistryTargets(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)

	if r.Len() != 2 {
		t.Fatalf("Len: got %d", r.Len())
	}
	if _, ok := r.Get("sensor.weekly_pill"); !ok {
		t.Error("expected lookup by entity id")
	}
	if _, ok := r.Get("med1"); !ok {
		t.Error("expected lookup by id")
	}

	states := r.Take([]string{"sensor.weekly_pill", "nope", "med2", "sensor.vitamin_c"}, time.Time{})
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].ID != "med1" || states[1].ID != "med2" {
		t.Errorf("order: got %s, %s", states[0].ID, states[1].ID)
	}
	if len(states[1].History) != 1 {
		t.Errorf("duplicate targets must only mark once, got %d entries", len(states[1].History))
	}
}

func TestRegistryCollidingEntityKeepsFirst(t *testing.T) {
	a := vitaminC()
	b := vitaminC()
	b.ID = "med1b"
	b.Name = "vitamin c"
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry([]Config{a, b}, testEnv(), clock.Now)

	m, ok := r.Get("sensor.vitamin_c")
	if !ok || m.ID() != "med1" {
		t.Fatalf("entity id should stay with the first medicine, got %v", m)
	}
	states := r.Take([]string{"sensor.vitamin_c"}, time.Time{})
	if len(states) != 1 || states[0].ID != "med1" {
		t.Fatalf("expected only med1 marked, got %+v", states)
	}
	if m, ok := r.Get("med1b"); !ok || len(m.State().History) != 0 {
		t.Error("second medicine should stay reachable by id and untouched")
	}
}

func TestRegistryUnknownTargetsSilent(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)
	if got := r.Take([]string{"sensor.missing"}, time.Time{}); len(got) != 0 {
		t.Errorf("expected no states, got %d", len(got))
	}
	if got := r.Reset(nil); len(got) != 0 {
		t.Errorf("expected no states, got %d", len(got))
	}
}

func TestRegistryRefreshReportsChanges(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 7, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)

	changed := r.Refresh()
	if len(changed) != 2 {
		t.Fatalf("first refresh: expected 2 changes, got %d", len(changed))
	}
	if changed[0].Due.Label != "Due at 8 AM" || changed[1].Due.Label != "Due Wednesday" {
		t.Errorf("labels: got %q, %q", changed[0].Due.Label, changed[1].Due.Label)
	}

	clock.t = clock.t.Add(10 * time.Minute)
	if changed := r.Refresh(); len(changed) != 0 {
		t.Errorf("expected no changes, got %d", len(changed))
	}

	clock.t = time.Date(2024, 1, 1, 8, 30, 0, 0, home)
	changed = r.Refresh()
	if len(changed) != 1 || changed[0].Due.Label != "Overdue" {
		t.Fatalf("expected med1 to turn overdue, got %+v", changed)
	}

	r.Take([]string{"med1"}, time.Time{})
	if changed := r.Refresh(); len(changed) != 0 {
		t.Errorf("take already published the new state, got %d changes", len(changed))
	}
}

func TestRegistryApply(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)

	at := time.Date(2024, 1, 1, 8, 15, 0, 0, home)
	states, err := r.Apply(Command{Action: ActionTake, Targets: []string{"med1"}, At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 1 || !states[0].History[0].Equal(at) {
		t.Fatalf("take: got %+v", states)
	}

	states, err = r.Apply(Command{Action: ActionReset, Targets: []string{"med1"}})
	if err != nil || len(states) != 1 || len(states[0].History) != 0 {
		t.Fatalf("reset: got %+v, %v", states, err)
	}

	// Resetting twice yields the same empty state.
	again, _ := r.Apply(Command{Action: ActionReset, Targets: []string{"med1"}})
	if again[0].Due != states[0].Due || len(again[0].History) != 0 {
		t.Errorf("second reset differs: %+v vs %+v", again[0], states[0])
	}

	if _, err := r.Apply(Command{Action: "explode"}); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestRegistryApplyUnparseableTimeUsesNow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)

	cmd, err := ParseRequest(ActionTake, []byte(`{"entity_id":"med1","time_taken":"yesterday"}`), home)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	states, err := r.Apply(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 1 || len(states[0].History) != 1 {
		t.Fatalf("take: got %+v", states)
	}
	if !states[0].History[0].Equal(clock.t) {
		t.Errorf("taken at: got %v, want %v", states[0].History[0], clock.t)
	}
}

func TestRegistryRestore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, home)}
	r := NewRegistry(twoMedicines(), testEnv(), clock.Now)
	if !r.Restore("med1", Persisted{History: []string{"2024-01-01T08:05:00Z"}}) {
		t.Fatal("expected restore to find med1")
	}
	if r.Restore("gone", Persisted{}) {
		t.Error("expected restore of unknown id to report false")
	}
	states := r.Refresh()
	if states[0].Due.Label != "Due Tomorrow" {
		t.Errorf("label: got %q", states[0].Due.Label)
	}
}

func TestRegistryTimezoneFollowsSensor(t *testing.T) {
	cfg := vitaminC()
	cfg.Schedule.Mode = logic.ModeFollowExternal
	cfg.Schedule.ZoneSource = "phone/tz"
	env := testEnv()
	env.Zones = zones{"phone/tz": "unknown"}

	clock := &fakeClock{t: time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)}
	r := NewRegistry([]Config{cfg}, env, clock.Now)
	states := r.Refresh()
	if states[0].Due.Kind == logic.KindError {
		t.Fatal("unknown zone must fall back, not error")
	}
	if states[0].Due.Label != "Due at 8 AM" {
		t.Errorf("label: got %q", states[0].Due.Label)
	}
}
