// Package storage persists each medicine's history and last due state so it
// survives restarts and reconfiguration.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
)

var (
	// ErrNotFound is returned by Load for an id that was never saved.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot at Path
//   - "sqlite": SQLite database at Path
//   - "mysql": MySQL database at DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Record is the persisted form of one medicine.
type Record struct {
	ID string
	// History holds ISO-8601 instants, ascending.
	History []string
	// LastTaken is only read for records written before History existed.
	LastTaken string
	Status    string
	Icon      string
	NextDue   string
	UpdatedAt time.Time
}

// Store is the persistence API used by the daemon.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, rec Record) error
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With().Str("component", "storage").Str("driver", driver).Logger()

	switch driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "mysql":
		return openMySQL(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// FromState converts an entity snapshot into a Record.
func FromState(s medicine.State, at time.Time) Record {
	rec := Record{
		ID:        s.ID,
		History:   s.HistoryStrings(),
		Status:    s.Due.Label,
		Icon:      s.Icon,
		UpdatedAt: at,
	}
	if last, ok := s.LastTaken(); ok {
		rec.LastTaken = last.Format(logic.InstantLayout)
	}
	if s.Due.HasNextDue() {
		rec.NextDue = s.Due.NextDue.Format(logic.InstantLayout)
	}
	return rec
}

// Persisted returns the part of the record that seeds an entity.
func (r Record) Persisted() medicine.Persisted {
	return medicine.Persisted{
		History:   append([]string(nil), r.History...),
		LastTaken: r.LastTaken,
	}
}
