package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// schema is portable between SQLite and MySQL. Statements run one at a time
// since the MySQL driver rejects multi-statement Exec by default.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS medicine_state (
    medicine_id VARCHAR(191) NOT NULL PRIMARY KEY,
    status VARCHAR(64) NOT NULL DEFAULT '',
    icon VARCHAR(64) NOT NULL DEFAULT '',
    next_due VARCHAR(64) NOT NULL DEFAULT '',
    last_taken VARCHAR(64) NOT NULL DEFAULT '',
    updated_at VARCHAR(64) NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS medicine_history (
    medicine_id VARCHAR(191) NOT NULL,
    position INTEGER NOT NULL,
    taken_at VARCHAR(64) NOT NULL,
    PRIMARY KEY (medicine_id, position)
)`,
}

// sqlStore backs both the sqlite and mysql drivers.
type sqlStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return newSQLStore(db, log)
}

func openMySQL(cfg Config, log zerolog.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = os.Getenv("MEDICINE_TRACKER_DSN")
	}
	if dsn == "" {
		return nil, errors.New("mysql dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return newSQLStore(db, log)
}

func newSQLStore(db *sql.DB, log zerolog.Logger) (Store, error) {
	s := &sqlStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Load(ctx context.Context, id string) (Record, error) {
	rec := Record{ID: id}
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, icon, next_due, last_taken, updated_at FROM medicine_state WHERE medicine_id = ?`, id,
	).Scan(&rec.Status, &rec.Icon, &rec.NextDue, &rec.LastTaken, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s: %w", id, err)
	}
	rec.UpdatedAt = parseTime(updated)

	history, err := s.history(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rec.History = history
	return rec, nil
}

func (s *sqlStore) history(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at FROM medicine_history WHERE medicine_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan history %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Save replaces the record in one transaction.
func (s *sqlStore) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM medicine_state WHERE medicine_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear state %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO medicine_state(medicine_id, status, icon, next_due, last_taken, updated_at) VALUES(?,?,?,?,?,?)`,
		rec.ID, rec.Status, rec.Icon, rec.NextDue, rec.LastTaken, formatTime(rec.UpdatedAt),
	); err != nil {
		return fmt.Errorf("write state %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM medicine_history WHERE medicine_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear history %s: %w", rec.ID, err)
	}
	for i, v := range rec.History {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO medicine_history(medicine_id, position, taken_at) VALUES(?,?,?)`, rec.ID, i, v,
		); err != nil {
			return fmt.Errorf("write history %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT medicine_id FROM medicine_state ORDER BY medicine_id`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
