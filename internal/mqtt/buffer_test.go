package mqtt

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10, zerolog.Nop())
	got := rb.drainAll()
	if got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer(10, zerolog.Nop())
	for i := 0; i < 5; i++ {
		rb.push(Message{Topic: "t", Payload: []byte{byte(i)}})
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].Payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].Payload[0])
		}
	}

	// Second drain should be empty
	got2 := rb.drainAll()
	if got2 != nil {
		t.Errorf("expected nil from second drain, got %d items", len(got2))
	}
}

func TestRingBufferFillToCapacity(t *testing.T) {
	cap := 10
	rb := newRingBuffer(cap, zerolog.Nop())
	for i := 0; i < cap; i++ {
		rb.push(Message{Topic: "t", Payload: []byte{byte(i)}})
	}

	got := rb.drainAll()
	if len(got) != cap {
		t.Fatalf("expected %d items, got %d", cap, len(got))
	}
	for i := 0; i < cap; i++ {
		if got[i].Payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].Payload[0])
		}
	}
}

func TestRingBufferOverflow(t *testing.T) {
	cap := 5
	rb := newRingBuffer(cap, zerolog.Nop())

	// Push cap+3 items (0..7), buffer should keep the most recent 5 (3..7)
	for i := 0; i < cap+3; i++ {
		rb.push(Message{Topic: "t", Payload: []byte{byte(i)}})
	}

	got := rb.drainAll()
	if len(got) != cap {
		t.Fatalf("expected %d items, got %d", cap, len(got))
	}
	for i := 0; i < cap; i++ {
		want := byte(i + 3) // oldest 3 were dropped
		if got[i].Payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, got[i].Payload[0])
		}
	}
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := newRingBuffer(5, zerolog.Nop())

	// Cycle 1: push 3, drain
	for i := 0; i < 3; i++ {
		rb.push(Message{Topic: "t", Payload: []byte{byte(i)}})
	}
	got := rb.drainAll()
	if len(got) != 3 {
		t.Fatalf("cycle 1: expected 3 items, got %d", len(got))
	}

	// Cycle 2: push 4, drain
	for i := 10; i < 14; i++ {
		rb.push(Message{Topic: "t", Payload: []byte{byte(i)}})
	}
	got = rb.drainAll()
	if len(got) != 4 {
		t.Fatalf("cycle 2: expected 4 items, got %d", len(got))
	}
	for i, msg := range got {
		want := byte(10 + i)
		if msg.Payload[0] != want {
			t.Errorf("cycle 2 item %d: expected %d, got %d", i, want, msg.Payload[0])
		}
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(10, zerolog.Nop())
	if rb.len() != 0 {
		t.Errorf("expected len 0, got %d", rb.len())
	}

	rb.push(Message{Topic: "t"})
	rb.push(Message{Topic: "t"})
	if rb.len() != 2 {
		t.Errorf("expected len 2, got %d", rb.len())
	}

	rb.drainAll()
	if rb.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", rb.len())
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(10, zerolog.Nop())
	rb.push(Message{
		Topic:    "medicine_tracker/test",
		Payload:  []byte(`{"test":true}`),
		QoS:      1,
		Retained: true,
	})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].Topic != "medicine_tracker/test" {
		t.Errorf("topic: got %s, want medicine_tracker/test", got[0].Topic)
	}
	if string(got[0].Payload) != `{"test":true}` {
		t.Errorf("payload: got %s", got[0].Payload)
	}
	if got[0].QoS != 1 {
		t.Errorf("qos: got %d, want 1", got[0].QoS)
	}
	if !got[0].Retained {
		t.Error("retained: got false, want true")
	}
}

func TestRingBufferRetainedSupersedes(t *testing.T) {
	rb := newRingBuffer(10, zerolog.Nop())
	rb.push(Message{Topic: "a", Payload: []byte{1}, Retained: true})
	rb.push(Message{Topic: "b", Payload: []byte{2}})
	rb.push(Message{Topic: "a", Payload: []byte{3}, Retained: true})
	rb.push(Message{Topic: "b", Payload: []byte{4}})

	got := rb.drainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0].Topic != "a" || got[0].Payload[0] != 3 {
		t.Errorf("retained message not replaced in place: %+v", got[0])
	}
	if got[1].Payload[0] != 2 || got[2].Payload[0] != 4 {
		t.Errorf("non-retained messages must all be kept: %+v", got[1:])
	}
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := newRingBuffer(0, zerolog.Nop())
	rb.push(Message{Topic: "a"})
	rb.push(Message{Topic: "b"})
	got := rb.drainAll()
	if len(got) != 1 || got[0].Topic != "b" {
		t.Errorf("got %+v, want only the newest message", got)
	}
}
