package store

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/crmorbit/internal/event"
)

// MemoryLog is an in-process event log with the same semantics as Store:
// append order is preserved and duplicate ids are skipped.
//
// Thread-safety: MemoryLog is safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	events []event.Event
	ids    map[string]struct{}
	meta   map[string]string
}

// NewMemoryLog returns an empty log, optionally seeded with events.
func NewMemoryLog(seed ...event.Event) *MemoryLog {
	m := &MemoryLog{ids: map[string]struct{}{}, meta: map[string]string{}}
	m.appendLocked(seed)
	return m
}

// Load returns a copy of the log in append order.
func (m *MemoryLog) Load(ctx context.Context) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

// Append adds events whose ids are not yet present.
func (m *MemoryLog) Append(ctx context.Context, events []event.Event) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(events), nil
}

// Replace swaps the whole log.
func (m *MemoryLog) Replace(ctx context.Context, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
	m.ids = map[string]struct{}{}
	m.appendLocked(events)
	return nil
}

// Meta returns the value under key or ErrNoMetadata.
func (m *MemoryLog) Meta(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.meta[key]
	if !ok {
		return "", ErrNoMetadata
	}
	return v, nil
}

// SetMeta stores value under key.
func (m *MemoryLog) SetMeta(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

// Close is a no-op.
func (m *MemoryLog) Close() error { return nil }

func (m *MemoryLog) appendLocked(events []event.Event) int {
	n := 0
	for _, ev := range events {
		if _, dup := m.ids[ev.ID]; dup {
			continue
		}
		m.ids[ev.ID] = struct{}{}
		m.events = append(m.events, ev)
		n++
	}
	m.events = slices.Clip(m.events)
	return n
}
