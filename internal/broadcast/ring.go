package broadcast

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultRecentCapacity is the size of the recent-update buffer.
const DefaultRecentCapacity = 100

// Entry is one buffered update.
type Entry struct {
	ReceivedAt time.Time       `json:"timestamp"`
	Message    json.RawMessage `json:"data"`
}

// Ring is a fixed-capacity FIFO that evicts the oldest entry when full.
type Ring struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	n     int
}

// NewRing creates a Ring. A non-positive capacity uses DefaultRecentCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// Add appends e, evicting the oldest entry if the ring is full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.n) % len(r.buf)
	r.buf[idx] = e
	if r.n < len(r.buf) {
		r.n++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the buffered entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
