package medicine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Registry owns every Medicine built from one configuration.
// Reconfiguration builds a new Registry.
type Registry struct {
	meds     []*Medicine
	byTarget map[string]*Medicine
	now      func() time.Time
	log      zerolog.Logger
	last     map[string]State
}

// NewRegistry creates entities for cfgs. now is the clock used for every
// recomputation.
func NewRegistry(cfgs []Config, env Env, now func() time.Time) *Registry {
	r := &Registry{
		byTarget: make(map[string]*Medicine),
		now:      now,
		log:      env.Logger,
		last:     make(map[string]State),
	}
	for _, cfg := range cfgs {
		m := New(cfg, env)
		r.meds = append(r.meds, m)
		for _, target := range []string{cfg.ID, cfg.EntityID()} {
			if owner, ok := r.byTarget[target]; ok && owner != m {
				r.log.Warn().Str("target", target).Str("id", cfg.ID).Str("owner", owner.ID()).
					Msg("target already names another medicine; keeping the first")
				continue
			}
			r.byTarget[target] = m
		}
	}
	return r
}

// Len returns the number of medicines.
func (r *Registry) Len() int {
	return len(r.meds)
}

// Get returns the medicine with the given id or entity id.
func (r *Registry) Get(target string) (*Medicine, bool) {
	m, ok := r.byTarget[target]
	return m, ok
}

// Restore seeds the history of one medicine. Unknown ids are ignored.
func (r *Registry) Restore(id string, p Persisted) bool {
	m, ok := r.byTarget[id]
	if !ok {
		return false
	}
	m.Restore(p)
	return true
}

// resolve maps targets to entities in configuration order.
// Unknown targets are skipped and duplicates collapse.
func (r *Registry) resolve(targets []string) []TakesMedication {
	want := make(map[*Medicine]bool, len(targets))
	for _, t := range targets {
		if m, ok := r.byTarget[t]; ok {
			want[m] = true
		} else {
			r.log.Debug().Str("target", t).Msg("ignoring unknown target")
		}
	}
	var out []TakesMedication
	for _, m := range r.meds {
		if want[m] {
			out = append(out, m)
		}
	}
	return out
}

// Take marks each target as taken at at (zero means now).
func (r *Registry) Take(targets []string, at time.Time) []State {
	now := r.now()
	var out []State
	for _, t := range r.resolve(targets) {
		out = append(out, r.remember(t.MarkTaken(at, now)))
	}
	return out
}

// Reset clears the history of each target.
func (r *Registry) Reset(targets []string) []State {
	now := r.now()
	var out []State
	for _, t := range r.resolve(targets) {
		out = append(out, r.remember(t.ResetHistory(now)))
	}
	return out
}

// Apply dispatches a command.
func (r *Registry) Apply(cmd Command) ([]State, error) {
	switch cmd.Action {
	case ActionTake:
		if cmd.BadTime != "" {
			r.log.Warn().Str("time_taken", cmd.BadTime).Str("source", cmd.Source).
				Msg("unparseable time_taken; using now")
		}
		return r.Take(cmd.Targets, cmd.At), nil
	case ActionReset:
		return r.Reset(cmd.Targets), nil
	default:
		return nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// Refresh recomputes every medicine and returns the states whose published
// output changed since the last call.
func (r *Registry) Refresh() []State {
	now := r.now()
	var changed []State
	for _, m := range r.meds {
		s := m.Refresh(now)
		if prev, ok := r.last[s.ID]; ok && prev.SameOutput(s) {
			continue
		}
		changed = append(changed, r.remember(s))
	}
	return changed
}

// States returns the current state of every medicine in configuration order.
func (r *Registry) States() []State {
	out := make([]State, 0, len(r.meds))
	for _, m := range r.meds {
		out = append(out, m.State())
	}
	return out
}

func (r *Registry) remember(s State) State {
	r.last[s.ID] = s
	return s
}
