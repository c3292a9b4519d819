// Package scrollback provides the session's recent-output ring buffer and
// the paginated historical scrollback state machine.
package scrollback

import "sync"

// DefaultRingCapacity bounds the recent-output ring (50 KiB).
const DefaultRingCapacity = 50 * 1024

// Ring is a thread-safe circular byte buffer keeping the most recent output
// up to a fixed capacity. It survives detach/attach so a reconnecting view
// can redisplay instantly without waiting for remote history.
type Ring struct {
	data     []byte
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a ring with the given capacity. Non-positive capacities
// fall back to DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends output, discarding the oldest bytes once capacity is
// exceeded. Implements io.Writer.
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.capacity {
		r.data = r.data[:r.capacity]
		copy(r.data, p[len(p)-r.capacity:])
		return len(p), nil
	}

	if over := len(r.data) + len(p) - r.capacity; over > 0 {
		n := copy(r.data, r.data[over:])
		r.data = r.data[:n]
	}
	r.data = append(r.data, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffered output.
func (r *Ring) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.data) == 0 {
		return nil
	}
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Clear discards all buffered output.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = r.data[:0]
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return r.capacity
}
