package events

import (
	"sync"

	"bazaarchain/core/types"
)

// payloadEvent is implemented by typed events that can render themselves as a
// generic attribute record for external consumers.
type payloadEvent interface {
	Event() *types.Event
}

// Ring is a bounded in-memory emitter retaining the most recent events for
// the RPC feed. Indexers poll it; the core never reads it back.
type Ring struct {
	mu     sync.RWMutex
	buf    []*types.Event
	next   int
	filled bool
}

// NewRing creates a ring emitter holding up to size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 256
	}
	return &Ring{buf: make([]*types.Event, size)}
}

// Emit implements the Emitter interface.
func (r *Ring) Emit(evt Event) {
	payload, ok := evt.(payloadEvent)
	if !ok {
		return
	}
	record := payload.Event()
	if record == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = record
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
}

// Latest returns up to n of the most recent events, newest first.
func (r *Ring) Latest(n int) []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := r.next
	if r.filled {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]*types.Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
