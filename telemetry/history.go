// Package telemetry follows backend resource usage: a WebSocket reader for
// /ws/telemetry, a health poller and a bounded history of snapshots.
package telemetry

import (
	"sync"
	"time"

	"asset_editor/apiclient"
)

// DefaultHistorySize holds ten minutes of one-second telemetry.
const DefaultHistorySize = 600

// Snapshot is one telemetry or health reading.
type Snapshot struct {
	At    time.Time
	Stats apiclient.Stats
}

// History is a fixed-size ring that overwrites the oldest snapshot when
// full. Safe for concurrent use.
type History struct {
	mu   sync.RWMutex
	data []Snapshot
	size int
	head int // next write
	tail int // oldest
}

// NewHistory panics if capacity is less than 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		panic("telemetry: history capacity must be at least 1")
	}
	return &History{data: make([]Snapshot, capacity)}
}

// Push appends s, dropping the oldest snapshot if full.
func (h *History) Push(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.head] = s
	h.head = (h.head + 1) % len(h.data)
	if h.size < len(h.data) {
		h.size++
	} else {
		h.tail = (h.tail + 1) % len(h.data)
	}
}

// All returns a copy ordered oldest to newest.
func (h *History) All() []Snapshot {
	return h.Last(h.Len())
}

// Last returns up to n of the most recent snapshots, oldest first.
func (h *History) Last(n int) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || h.size == 0 {
		return []Snapshot{}
	}
	if n > h.size {
		n = h.size
	}
	out := make([]Snapshot, n)
	start := h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.data[(h.tail+start+i)%len(h.data)]
	}
	return out
}

// Latest returns the newest snapshot.
func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return Snapshot{}, false
	}
	return h.data[(h.head-1+len(h.data))%len(h.data)], true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap is fixed at construction.
func (h *History) Cap() int { return len(h.data) }

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.data {
		h.data[i] = Snapshot{}
	}
	h.size, h.head, h.tail = 0, 0, 0
}

// PeakVRAM returns the highest allocated VRAM in the window.
func (h *History) PeakVRAM() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peak := 0.0
	for i := 0; i < h.size; i++ {
		if v := h.data[(h.tail+i)%len(h.data)].Stats.AllocatedGB; v > peak {
			peak = v
		}
	}
	return peak
}
