package mqtt

import (
	"sync"

	"github.com/sweeney/medicine-tracker/internal/medicine"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// States contains every medicine state that was published.
	States []medicine.State

	// Payloads contains the JSON state payloads that were published.
	Payloads [][]byte

	// Discovered contains the ids announced by PublishDiscovery, in order.
	Discovered []string

	// Removed contains the ids passed to RemoveMedicine.
	Removed []string

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Handlers holds the last Subscribe argument.
	Handlers *Handlers

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishState records the medicine state.
func (f *FakePublisher) PublishState(st medicine.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatState(st)
	if err != nil {
		return err
	}
	f.States = append(f.States, st)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishDiscovery records the announced ids.
func (f *FakePublisher) PublishDiscovery(states []medicine.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range states {
		f.Discovered = append(f.Discovered, st.ID)
	}
	return nil
}

// RemoveMedicine records the removed id.
func (f *FakePublisher) RemoveMedicine(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, id)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Subscribe stores the handlers so tests can deliver messages.
func (f *FakePublisher) Subscribe(h Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Handlers = &h
	return nil
}

// Deliver simulates an inbound command payload.
func (f *FakePublisher) Deliver(action medicine.Action, payload []byte) error {
	f.mu.Lock()
	h := f.Handlers
	f.mu.Unlock()
	if h == nil || h.OnCommand == nil {
		return nil
	}
	cmd, err := ParseCommand(action, payload, h.Location)
	if err != nil {
		return err
	}
	h.OnCommand(cmd)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Snapshot returns copies of the recorded states and system events.
func (f *FakePublisher) Snapshot() ([]medicine.State, []SystemEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]medicine.State(nil), f.States...), append([]SystemEvent(nil), f.SystemEvents...)
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = nil
	f.Payloads = nil
	f.Discovered = nil
	f.Removed = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

var (
	_ Publisher        = (*FakePublisher)(nil)
	_ Subscriber       = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)
