package stats

import (
	"context"
	"maps"
	"sync"
)

// MemoryRecorder keeps counters in process memory. Nothing expires.
type MemoryRecorder struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryOption func(*MemoryRecorder)

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) MemoryOption {
	return func(m *MemoryRecorder) { m.trackKeys = track }
}

func NewMemoryRecorder(opts ...MemoryOption) *MemoryRecorder {
	m := &MemoryRecorder{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	route := ev.Method + " " + ev.Path

	m.mu.Lock()
	defer m.mu.Unlock()

	bump(&m.total, ev.Allowed)

	c := m.byRoute[route]
	bump(&c, ev.Allowed)
	m.byRoute[route] = c

	if m.trackKeys && ev.Key != "" {
		k := m.byKey[ev.Key]
		bump(&k, ev.Allowed)
		m.byKey[ev.Key] = k
	}
	return nil
}

func (m *MemoryRecorder) Total() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// ByRoute returns a copy of the per-route counters keyed by "METHOD path".
func (m *MemoryRecorder) ByRoute() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.byRoute)
}

func (m *MemoryRecorder) ByKey() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.byKey)
}

// Snapshot copies every counter. It never fails.
func (m *MemoryRecorder) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:   m.total,
		ByRoute: maps.Clone(m.byRoute),
		ByKey:   maps.Clone(m.byKey),
	}, nil
}

func bump(c *Counters, allowed bool) {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
}
