package eventlog

import (
	"context"
	"sync"

	"procodus.dev/facility-monitor/pkg/event"
)

// DefaultMemorySize is the ring capacity used when none is given.
const DefaultMemorySize = 500

// Memory keeps the most recent events in a bounded ring.
type Memory struct {
	mu    sync.RWMutex
	buf   []event.Envelope
	start int
	n     int
	total uint64
}

// NewMemory creates a ring holding up to size events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = DefaultMemorySize
	}
	return &Memory{buf: make([]event.Envelope, size)}
}

// Append implements Log. It never fails.
func (m *Memory) Append(_ context.Context, e event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if m.n < len(m.buf) {
		m.buf[(m.start+m.n)%len(m.buf)] = e
		m.n++
		return nil
	}
	m.buf[m.start] = e
	m.start = (m.start + 1) % len(m.buf)
	return nil
}

// Snapshot returns the retained events, oldest first.
func (m *Memory) Snapshot() []event.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]event.Envelope, m.n)
	for i := range m.n {
		out[i] = m.buf[(m.start+i)%len(m.buf)]
	}
	return out
}

// Len returns the number of retained events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.n
}

// Total returns the number of events ever appended.
func (m *Memory) Total() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}
