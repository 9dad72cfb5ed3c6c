package logic

import (
	"strings"
	"time"
)

// ZoneSource looks up the current value of an external zone-name sensor.
// ok is false when the reference is not known at all.
type ZoneSource interface {
	Lookup(ref string) (value string, ok bool)
}

// Sentinel states reported by an external sensor that has no usable value.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// ResolveLocation returns the effective timezone for a schedule.
// It never fails: every unusable input falls back to def.
func ResolveLocation(s Schedule, src ZoneSource, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	if s.Mode != ModeFollowExternal || s.ZoneSource == "" || src == nil {
		return def
	}
	name, ok := src.Lookup(s.ZoneSource)
	if !ok {
		return def
	}
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", StateUnknown, StateUnavailable, "local":
		return def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return def
	}
	return loc
}
