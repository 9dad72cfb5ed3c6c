package medicine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/medicine-tracker/internal/logic"
)

// Action is a command verb.
type Action string

const (
	ActionTake  Action = "take"
	ActionReset Action = "reset"
)

// Command is a request from a transport to the run loop.
type Command struct {
	Action  Action
	Targets []string
	// At is the explicit taken time; zero means now.
	At time.Time
	// BadTime holds a time_taken that could not be parsed. At stays zero.
	BadTime string
	// Source names the transport for logging ("mqtt", "http", ...).
	Source string
	// Reply, if set, receives the result. It must be buffered.
	Reply chan<- Result
}

// Result is the outcome of a Command.
type Result struct {
	States []State
	Err    error
}

// Targets accepts either a single string or a list in JSON.
type Targets []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Targets) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = splitTargets(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("entity_id must be a string or list: %w", err)
	}
	*t = list
	return nil
}

// Request is the JSON body shared by the MQTT and HTTP command surfaces.
type Request struct {
	EntityID  Targets `json:"entity_id"`
	TimeTaken string  `json:"time_taken,omitempty"`
}

// ErrNoTargets is returned when a request names no entity.
var ErrNoTargets = errors.New("no entity_id given")

// ParseRequest decodes a command body. An empty body is not valid.
// A time_taken without zone information is read in def.
func ParseRequest(action Action, data []byte, def *time.Location) (Command, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Command{}, fmt.Errorf("decode request: %w", err)
	}
	return req.Command(action, def)
}

// Command converts the request into a Command. An unparseable time_taken
// is not an error: the dose is recorded now and BadTime keeps the input.
func (req Request) Command(action Action, def *time.Location) (Command, error) {
	if len(req.EntityID) == 0 {
		return Command{}, ErrNoTargets
	}
	cmd := Command{Action: action, Targets: []string(req.EntityID)}
	if action == ActionTake && strings.TrimSpace(req.TimeTaken) != "" {
		if at, err := logic.ParseInstant(req.TimeTaken, def); err == nil {
			cmd.At = at
		} else {
			cmd.BadTime = req.TimeTaken
		}
	}
	return cmd, nil
}

// splitTargets accepts "a, b" as well as "a".
func splitTargets(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
