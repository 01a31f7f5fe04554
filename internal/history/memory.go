package history

import (
	"context"
	"sync"
	"time"

	"pulsesync/internal/notify"
)

// memoryStore keeps a bounded, newest-last slice of items.
type memoryStore struct {
	mu    sync.Mutex
	items []Item
	max   int
}

func openMemory(cfg Config) *memoryStore {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &memoryStore{max: maxEntries}
}

func (m *memoryStore) Append(_ context.Context, req notify.Request) error {
	it := itemFromRequest(req, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, it)
	if len(m.items) > m.max {
		m.items = append(m.items[:0:0], m.items[len(m.items)-m.max:]...)
	}
	return nil
}

func (m *memoryStore) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Read = true
			return nil
		}
	}
	return nil
}

func (m *memoryStore) MarkAllRead(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		m.items[i].Read = true
	}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Unread(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.items {
		if !m.items[i].Read {
			n++
		}
	}
	return n, nil
}

// List returns newest-first.
func (m *memoryStore) List(_ context.Context, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	out := make([]Item, 0, limit)
	for i := len(m.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}

func (m *memoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	removed := 0
	for _, it := range m.items {
		if it.DeliveredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	m.items = kept
	return removed, nil
}

func (m *memoryStore) Close() error { return nil }
