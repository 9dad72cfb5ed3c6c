package storage

import (
	"context"
	"sort"
	"sync"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
	SaveErr error
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{records: make(map[string]Record)}
}

func (f *FakeStore) Load(ctx context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (f *FakeStore) Save(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.saves++
	f.records[rec.ID] = copyRecord(rec)
	return nil
}

func (f *FakeStore) All(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) Close() error { return nil }

// Saves returns the number of successful Save calls.
func (f *FakeStore) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func copyRecord(r Record) Record {
	r.History = append([]string(nil), r.History...)
	return r
}
