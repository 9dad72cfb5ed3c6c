package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Ready         bool           `json:"ready"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Medicines     []MedicineJSON `json:"medicines"`
	Counts        CountsJSON     `json:"command_counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// MedicineJSON is the JSON representation of one medicine.
type MedicineJSON struct {
	ID           string   `json:"id"`
	EntityID     string   `json:"entity_id"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Icon         string   `json:"icon"`
	Dosage       string   `json:"dosage,omitempty"`
	PatientName  string   `json:"patient_name,omitempty"`
	ScheduleTime string   `json:"schedule_time"`
	ScheduleDays []string `json:"schedule_days"`
	TimeMode     string   `json:"time_mode"`
	NextDue      *string  `json:"next_due"`
	LastTaken    *string  `json:"last_taken"`
	History      []string `json:"history"`
}

// CountsJSON is the JSON representation of command counts.
type CountsJSON struct {
	Take  int `json:"take"`
	Reset int `json:"reset"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	RefreshMs   int64  `json:"refresh_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Storage     string `json:"storage"`
	Timezone    string `json:"timezone"`
	TZSensor    string `json:"tz_sensor,omitempty"`
}

// MedicineToJSON converts one state for output.
func MedicineToJSON(st medicine.State) MedicineJSON {
	days := st.ScheduleDays
	if days == nil {
		days = []string{}
	}
	history := st.HistoryStrings()
	if history == nil {
		history = []string{}
	}
	label := st.Due.Label
	if label == "" {
		label = logic.UnknownState().Label
	}
	m := MedicineJSON{
		ID:           st.ID,
		EntityID:     st.EntityID,
		Name:         st.Name,
		Status:       label,
		Icon:         st.Icon,
		Dosage:       st.Dosage,
		PatientName:  st.PatientName,
		ScheduleTime: st.ScheduleTime,
		ScheduleDays: days,
		TimeMode:     st.TimeMode,
		History:      history,
	}
	if st.Due.HasNextDue() {
		s := st.Due.NextDue.Format(logic.InstantLayout)
		m.NextDue = &s
	}
	if last, ok := st.LastTaken(); ok {
		s := last.Format(logic.InstantLayout)
		m.LastTaken = &s
	}
	return m
}

func buildInner(snap Snapshot) StatusInner {
	meds := make([]MedicineJSON, 0, len(snap.Medicines))
	for _, st := range snap.Medicines {
		meds = append(meds, MedicineToJSON(st))
	}

	return StatusInner{
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Medicines:     meds,
		Counts: CountsJSON{
			Take:  snap.Counts.Take,
			Reset: snap.Counts.Reset,
		},
		Config: ConfigJSON{
			RefreshMs:   snap.Config.RefreshMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Storage:     snap.Config.Storage,
			Timezone:    snap.Config.Timezone,
			TZSensor:    snap.Config.TZSensor,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
