package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const fileVersion = 1

type fileSnapshot struct {
	Version   int                   `json:"version"`
	Medicines map[string]fileRecord `json:"medicines"`
}

type fileRecord struct {
	History   []string `json:"history,omitempty"`
	LastTaken string   `json:"last_taken,omitempty"`
	Status    string   `json:"status,omitempty"`
	Icon      string   `json:"icon,omitempty"`
	NextDue   string   `json:"next_due,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// fileStore keeps all records in one JSON file, rewritten atomically on save.
type fileStore struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	records map[string]fileRecord
	closed  bool
}

func openFile(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &fileStore{path: cfg.Path, log: log, records: make(map[string]fileRecord)}

	data, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read storage file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot must not keep the daemon down; start empty.
		log.Warn().Err(err).Str("path", cfg.Path).Msg("storage file unreadable; starting empty")
		return s, nil
	}
	for id, rec := range snap.Medicines {
		s.records[id] = rec
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	fr, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return fr.record(id), nil
}

func (s *fileStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records[rec.ID] = fileRecord{
		History:   append([]string(nil), rec.History...),
		LastTaken: rec.LastTaken,
		Status:    rec.Status,
		Icon:      rec.Icon,
		NextDue:   rec.NextDue,
		UpdatedAt: formatTime(rec.UpdatedAt),
	}
	return s.flushLocked()
}

func (s *fileStore) All(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(s.records))
	for id, fr := range s.records {
		out = append(out, fr.record(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// flushLocked writes the snapshot via a temp file and rename.
func (s *fileStore) flushLocked() error {
	data, err := json.MarshalIndent(fileSnapshot{Version: fileVersion, Medicines: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".medicine-tracker-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (fr fileRecord) record(id string) Record {
	return Record{
		ID:        id,
		History:   append([]string(nil), fr.History...),
		LastTaken: fr.LastTaken,
		Status:    fr.Status,
		Icon:      fr.Icon,
		NextDue:   fr.NextDue,
		UpdatedAt: parseTime(fr.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
