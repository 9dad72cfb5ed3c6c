package mqtt

import "github.com/rs/zerolog"

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []Message
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	log      zerolog.Logger
}

func newRingBuffer(capacity int, log zerolog.Logger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]Message, capacity),
		capacity: capacity,
		log:      log,
	}
}

func (r *ringBuffer) push(msg Message) {
	// A newer retained message supersedes a queued one on the same topic.
	if msg.Retained && r.replace(msg) {
		return
	}
	if r.count == r.capacity {
		if !r.overflow {
			r.log.Warn().Int("capacity", r.capacity).Msg("mqtt buffer full, dropping oldest")
			r.overflow = true
		}
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) replace(msg Message) bool {
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		idx := (start + i) % r.capacity
		if r.buf[idx].Retained && r.buf[idx].Topic == msg.Topic {
			r.buf[idx] = msg
			return true
		}
	}
	return false
}

func (r *ringBuffer) drainAll() []Message {
	if r.count == 0 {
		return nil
	}

	result := make([]Message, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
