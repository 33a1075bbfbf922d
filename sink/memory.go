package sink

import (
	"context"
	"sync"
	"time"
)

// Entry is one stored record.
type Entry struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Metadata Metadata       `json:"metadata"`
	Record   map[string]any `json:"record"`
	StoredAt time.Time      `json:"stored_at"`
}

// Memory keeps the most recent records in process. It is the default sink
// and the one used in tests.
type Memory struct {
	mu      sync.RWMutex
	max     int
	order   []string
	entries map[string]Entry
}

// NewMemory keeps at most max records, dropping the oldest. Zero means 1000.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1000
	}
	return &Memory{max: max, entries: make(map[string]Entry)}
}

// Store implements Sink.
func (m *Memory) Store(ctx context.Context, rec map[string]any, status string, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := newID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = Entry{ID: id, Status: status, Metadata: meta, Record: rec, StoredAt: time.Now()}
	m.order = append(m.order, id)
	for len(m.order) > m.max {
		delete(m.entries, m.order[0])
		m.order = m.order[1:]
	}
	return id, nil
}

// Get returns a stored entry.
func (m *Memory) Get(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// List returns entries oldest first.
func (m *Memory) List() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

// Close implements Sink.
func (m *Memory) Close() error { return nil }
