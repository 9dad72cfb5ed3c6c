// Package medicine owns the per-schedule entities. Each Medicine is an
// exclusively owned record of configuration, history and the last computed
// due state. Entities are not safe for concurrent use; the daemon's run loop
// is their only caller.
package medicine

import (
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/logic"
)

// DefaultIcon is used when a medicine has no configured icon.
const DefaultIcon = "mdi:pill"

// Config is the static definition of one medicine.
type Config struct {
	ID          string
	Name        string
	Icon        string
	Dosage      string
	PatientID   string
	PatientName string
	Schedule    logic.Schedule
}

// EntityID returns the Home Assistant style entity id, e.g. "sensor.vitamin_c".
func (c Config) EntityID() string {
	return "sensor." + Slug(c.Name)
}

// Slug lowercases s and replaces runs of non-alphanumerics with "_".
func Slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// TakesMedication is what command dispatch acts on.
type TakesMedication interface {
	MarkTaken(at, now time.Time) State
	ResetHistory(now time.Time) State
}

var _ TakesMedication = (*Medicine)(nil)

// Env carries the collaborators shared by all entities.
type Env struct {
	Zones           logic.ZoneSource
	DefaultLocation *time.Location
	Logger          zerolog.Logger
}

func (e Env) location() *time.Location {
	if e.DefaultLocation == nil {
		return time.Local
	}
	return e.DefaultLocation
}

// Persisted is the restorable part of a medicine's state.
type Persisted struct {
	History []string
	// LastTaken is the legacy single-value form, used when History is empty.
	LastTaken string
}

// Medicine is one tracked schedule.
type Medicine struct {
	cfg       Config
	env       Env
	log       zerolog.Logger
	history   logic.History
	due       logic.DueState
	icon      string
	updatedAt time.Time
}

// New creates a Medicine with an empty history and an Unknown state.
func New(cfg Config, env Env) *Medicine {
	if cfg.Icon == "" {
		cfg.Icon = DefaultIcon
	}
	return &Medicine{
		cfg:  cfg,
		env:  env,
		log:  env.Logger.With().Str("medicine", cfg.ID).Logger(),
		due:  logic.UnknownState(),
		icon: cfg.Icon,
	}
}

// ID returns the medicine's identity.
func (m *Medicine) ID() string {
	return m.cfg.ID
}

// Config returns the medicine's definition.
func (m *Medicine) Config() Config {
	return m.cfg
}

// Restore seeds the history from persisted state. It does not recompute.
func (m *Medicine) Restore(p Persisted) {
	m.history = logic.RestoreHistory(p.History, p.LastTaken, m.env.location())
	m.log.Debug().Int("entries", m.history.Len()).Msg("history restored")
}

// Refresh recomputes the due state at now.
func (m *Medicine) Refresh(now time.Time) State {
	due, err := logic.Recompute(m.cfg.Schedule, m.history, now, m.env.Zones, m.env.location())
	if err != nil {
		m.log.Error().Err(err).Str("name", m.cfg.Name).Msg("error updating medicine")
	}
	m.due = due
	m.icon = due.Icon
	m.updatedAt = now
	return m.State()
}

// MarkTaken records a dose taken at at, or at now when at is zero.
func (m *Medicine) MarkTaken(at, now time.Time) State {
	if at.IsZero() {
		at = now
	}
	m.history.Add(at)
	m.log.Info().Time("taken_at", at).Int("entries", m.history.Len()).Msg("marked taken")
	return m.Refresh(now)
}

// ResetHistory clears all taken events.
func (m *Medicine) ResetHistory(now time.Time) State {
	m.history.Reset()
	m.log.Info().Msg("history reset")
	return m.Refresh(now)
}

// State returns a snapshot of the entity.
func (m *Medicine) State() State {
	days := append([]string(nil), m.cfg.Schedule.Days...)
	return State{
		ID:           m.cfg.ID,
		EntityID:     m.cfg.EntityID(),
		Name:         m.cfg.Name,
		Icon:         m.icon,
		Dosage:       m.cfg.Dosage,
		PatientID:    m.cfg.PatientID,
		PatientName:  m.cfg.PatientName,
		ScheduleTime: m.cfg.Schedule.Time.String(),
		ScheduleDays: days,
		TimeMode:     string(m.cfg.Schedule.Mode),
		Due:          m.due,
		History:      m.history.Entries(),
		UpdatedAt:    m.updatedAt,
	}
}
