// Package sensors holds the latest values of external sensors the daemon
// subscribes to, such as a phone's timezone. It is safe for concurrent use:
// MQTT callbacks write, the run loop reads.
package sensors

import (
	"strings"
	"sync"
	"time"
)

// Reading is a single sensor value.
type Reading struct {
	Value     string
	UpdatedAt time.Time
}

// Cache stores the latest reading per sensor reference.
type Cache struct {
	mu       sync.RWMutex
	readings map[string]Reading
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{readings: make(map[string]Reading)}
}

// Set records a new value for ref.
func (c *Cache) Set(ref, value string, at time.Time) {
	c.mu.Lock()
	c.readings[ref] = Reading{Value: strings.TrimSpace(value), UpdatedAt: at}
	c.mu.Unlock()
}

// Lookup returns the current value for ref. It implements logic.ZoneSource.
func (c *Cache) Lookup(ref string) (string, bool) {
	c.mu.RLock()
	r, ok := c.readings[ref]
	c.mu.RUnlock()
	return r.Value, ok
}

// Snapshot returns a copy of all readings.
func (c *Cache) Snapshot() map[string]Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Reading, len(c.readings))
	for k, v := range c.readings {
		out[k] = v
	}
	return out
}
