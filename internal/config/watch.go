package config

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce absorbs editors that write a file in several steps.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	log      zerolog.Logger
	debounce time.Duration

	mu       sync.Mutex
	lastHash uint64
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		log:      log.With().Str("component", "config").Logger(),
		debounce: DefaultWatchDebounce,
	}
}

// SetDebounce overrides the reload debounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Prime records the content of the currently applied config so an unchanged
// file does not trigger a reload.
func (w *Watcher) Prime() {
	if data, err := os.ReadFile(w.path); err == nil {
		w.mu.Lock()
		w.lastHash = hashBytes(data)
		w.mu.Unlock()
	}
}

// Run watches the config directory until ctx is done. Every valid, changed
// config is sent on out. Invalid files are logged and skipped.
func (w *Watcher) Run(ctx context.Context, out chan<- *Config) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors often replace the file by rename.
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.log.Debug().Str("dir", dir).Str("file", file).Msg("config watcher started")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() { w.reload(ctx, out) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.log.Debug().Str("op", ev.Op.String()).Msg("config change detected; scheduling reload")
				schedule()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context, out chan<- *Config) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("config read failed")
		return
	}
	h := hashBytes(data)
	w.mu.Lock()
	unchanged := h == w.lastHash
	w.mu.Unlock()
	if unchanged {
		w.log.Debug().Msg("config unchanged; skipping reload")
		return
	}

	f, err := Parse(w.path, data)
	if err != nil {
		w.log.Warn().Err(err).Msg("config parse failed")
		return
	}
	cfg, err := f.Resolve()
	if err != nil {
		w.log.Warn().Err(err).Msg("config rejected")
		return
	}

	w.mu.Lock()
	w.lastHash = h
	w.mu.Unlock()

	select {
	case out <- cfg:
		w.log.Info().Int("medicines", len(cfg.Medicines)).Msg("config reloaded")
	case <-ctx.Done():
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
