// Package mqtt publishes medicine state to an MQTT broker and receives
// take/reset commands and external timezone readings from it.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// Default topic roots.
const (
	DefaultPrefix          = "medicine_tracker"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Publisher publishes medicine state and system events.
type Publisher interface {
	// PublishState sends the retained state of one medicine.
	// Returns error if publishing fails (should not crash the process).
	PublishState(st medicine.State) error

	// PublishDiscovery announces the medicines to Home Assistant.
	PublishDiscovery(states []medicine.State) error

	// RemoveMedicine clears retained state and discovery for a medicine
	// that is no longer configured.
	RemoveMedicine(id string) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber receives inbound messages.
type Subscriber interface {
	Subscribe(h Handlers) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Handlers are invoked from the MQTT client goroutine; they must not block.
type Handlers struct {
	// OnCommand receives parsed take/reset commands.
	OnCommand func(cmd medicine.Command)
	// OnZone receives the payload of a subscribed zone topic.
	OnZone func(topic, value string, at time.Time)
	// ZoneTopics lists the topics to forward to OnZone.
	ZoneTopics []string
	// Location interprets naive time_taken values.
	Location *time.Location
}

// Topics derives every topic from the configured roots.
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

// NewTopics applies defaults and trims trailing slashes.
func NewTopics(prefix, discoveryPrefix string) Topics {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	discoveryPrefix = strings.TrimRight(strings.TrimSpace(discoveryPrefix), "/")
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return Topics{Prefix: prefix, DiscoveryPrefix: discoveryPrefix}
}

// State is the retained JSON state topic of a medicine.
func (t Topics) State(id string) string { return t.Prefix + "/" + id + "/state" }

// System carries lifecycle events and the last will.
func (t Topics) System() string { return t.Prefix + "/system" }

// Command is the inbound topic for an action.
func (t Topics) Command(action medicine.Action) string {
	return t.Prefix + "/cmd/" + string(action)
}

// Discovery is the Home Assistant config topic of one entity.
func (t Topics) Discovery(component, objectID string) string {
	return t.DiscoveryPrefix + "/" + component + "/" + objectID + "/config"
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RELOAD"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the retained state of one medicine.
type StatePayload struct {
	Status       string   `json:"status"`
	Icon         string   `json:"icon"`
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage,omitempty"`
	PatientID    string   `json:"patient_id,omitempty"`
	PatientName  string   `json:"patient_name,omitempty"`
	ScheduleTime string   `json:"schedule_time"`
	ScheduleDays []string `json:"schedule_days"`
	TimeMode     string   `json:"time_mode"`
	LastTaken    *string  `json:"last_taken"`
	NextDue      *string  `json:"next_due"`
	History      []string `json:"history"`
}

// FormatState creates the JSON payload for a medicine state.
// Absent values are encoded as null.
func FormatState(st medicine.State) ([]byte, error) {
	days := st.ScheduleDays
	if days == nil {
		days = []string{}
	}
	history := st.HistoryStrings()
	if history == nil {
		history = []string{}
	}
	p := StatePayload{
		Status:       st.Due.Label,
		Icon:         st.Icon,
		Name:         st.Name,
		Dosage:       st.Dosage,
		PatientID:    st.PatientID,
		PatientName:  st.PatientName,
		ScheduleTime: st.ScheduleTime,
		ScheduleDays: days,
		TimeMode:     st.TimeMode,
		History:      history,
	}
	if last, ok := st.LastTaken(); ok {
		s := last.Format(logic.InstantLayout)
		p.LastTaken = &s
	}
	if st.Due.HasNextDue() {
		s := st.Due.NextDue.Format(logic.InstantLayout)
		p.NextDue = &s
	}
	return json.Marshal(p)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand decodes an inbound command payload. An empty payload is
// rejected since it names no target.
func ParseCommand(action medicine.Action, payload []byte, def *time.Location) (medicine.Command, error) {
	cmd, err := medicine.ParseRequest(action, payload, def)
	if err != nil {
		return medicine.Command{}, err
	}
	cmd.Source = "mqtt"
	return cmd, nil
}
