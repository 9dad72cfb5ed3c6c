// Package status provides a thread-safe status tracker for the medicine-tracker daemon.
// It is read by HTTP handlers, the Telegram bot and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	RefreshMs   int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Storage     string
	Timezone    string
	TZSensor    string
}

// CommandCounts counts commands applied since startup.
type CommandCounts struct {
	Take  int
	Reset int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Medicines     []medicine.State
	Ready         bool
	Counts        CommandCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update replaces the medicine states. Called from the run loop after
// every refresh or command.
func (t *Tracker) Update(states []medicine.State) {
	cp := make([]medicine.State, len(states))
	copy(cp, states)
	t.mu.Lock()
	t.snap.Medicines = cp
	t.snap.Ready = true
	t.mu.Unlock()
}

// CountCommand records an applied command.
func (t *Tracker) CountCommand(action medicine.Action) {
	t.mu.Lock()
	switch action {
	case medicine.ActionTake:
		t.snap.Counts.Take++
	case medicine.ActionReset:
		t.snap.Counts.Reset++
	}
	t.mu.Unlock()
}

// SetConfig replaces the displayed configuration after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	// Update replaces the slice, so sharing it is safe.
	s.Now = t.now()
	return s
}
