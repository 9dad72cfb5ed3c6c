package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// Message is a prepared publish.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type discoveryAvailability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template"`
}

type discoveryConfig struct {
	Name                string                  `json:"name"`
	UniqueID            string                  `json:"unique_id"`
	ObjectID            string                  `json:"object_id"`
	Icon                string                  `json:"icon,omitempty"`
	StateTopic          string                  `json:"state_topic,omitempty"`
	ValueTemplate       string                  `json:"value_template,omitempty"`
	JSONAttributesTopic string                  `json:"json_attributes_topic,omitempty"`
	CommandTopic        string                  `json:"command_topic,omitempty"`
	PayloadPress        string                  `json:"payload_press,omitempty"`
	Availability        []discoveryAvailability `json:"availability"`
	Device              discoveryDevice         `json:"device"`
}

// availabilityTemplate maps system events to online/offline; the last will
// is a SHUTDOWN event.
const availabilityTemplate = `{{ 'offline' if (value_json.system is defined and value_json.system.event == 'SHUTDOWN') or (value_json.status is defined and value_json.status.event == 'SHUTDOWN') else 'online' }}`

// discoveryComponents lists the entities announced per medicine.
var discoveryComponents = []struct {
	component string
	suffix    string
}{
	{"sensor", ""},
	{"button", "_take"},
	{"button", "_reset"},
}

// DiscoveryMessages builds the Home Assistant config messages for a medicine:
// one status sensor plus take and reset buttons.
func DiscoveryMessages(t Topics, st medicine.State) ([]Message, error) {
	press, err := json.Marshal(medicine.Request{EntityID: medicine.Targets{st.ID}})
	if err != nil {
		return nil, fmt.Errorf("marshal press payload: %w", err)
	}
	base := objectID(t, st.ID)
	device := discoveryDevice{
		Identifiers:  []string{t.Prefix + "_" + deviceKey(st)},
		Name:         deviceName(st),
		Manufacturer: "medicine-tracker",
		Model:        "Medicine schedule",
	}
	avail := []discoveryAvailability{{Topic: t.System(), ValueTemplate: availabilityTemplate}}

	configs := []discoveryConfig{
		{
			Name:                st.Name,
			Icon:                st.Icon,
			StateTopic:          t.State(st.ID),
			ValueTemplate:       "{{ value_json.status }}",
			JSONAttributesTopic: t.State(st.ID),
		},
		{
			Name:         st.Name + " Taken",
			Icon:         "mdi:check",
			CommandTopic: t.Command(medicine.ActionTake),
			PayloadPress: string(press),
		},
		{
			Name:         st.Name + " Reset",
			Icon:         "mdi:history",
			CommandTopic: t.Command(medicine.ActionReset),
			PayloadPress: string(press),
		},
	}

	msgs := make([]Message, 0, len(configs))
	for i, c := range configs {
		id := base + discoveryComponents[i].suffix
		c.UniqueID = id
		c.ObjectID = id
		c.Availability = avail
		c.Device = device
		payload, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal discovery %s: %w", id, err)
		}
		msgs = append(msgs, Message{
			Topic:    t.Discovery(discoveryComponents[i].component, id),
			Payload:  payload,
			QoS:      1,
			Retained: true,
		})
	}
	return msgs, nil
}

// RemovalMessages clears every retained topic of a medicine.
func RemovalMessages(t Topics, id string) []Message {
	base := objectID(t, id)
	msgs := []Message{{Topic: t.State(id), Payload: []byte{}, QoS: 1, Retained: true}}
	for _, c := range discoveryComponents {
		msgs = append(msgs, Message{
			Topic:    t.Discovery(c.component, base+c.suffix),
			Payload:  []byte{},
			QoS:      1,
			Retained: true,
		})
	}
	return msgs
}

func objectID(t Topics, id string) string {
	return t.Prefix + "_" + id
}

func deviceKey(st medicine.State) string {
	if st.PatientID != "" {
		return st.PatientID
	}
	return "default"
}

func deviceName(st medicine.State) string {
	if st.PatientName != "" {
		return "Medicines (" + st.PatientName + ")"
	}
	return "Medicines"
}
