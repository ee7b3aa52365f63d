// internal/storage/signal/memory.go
package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/newthinker/tinkclaw/internal/core"
)

// MemoryStore is a bounded in-memory journal. Once full, the oldest
// entries are discarded.
type MemoryStore struct {
	entries []Entry
	maxSize int
	mu      sync.RWMutex
	counter int64
}

// NewMemoryStore creates a new in-memory store with max capacity.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Save appends an entry.
func (m *MemoryStore) Save(ctx context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	e.ID = fmt.Sprintf("dec_%d", m.counter)

	m.entries = append(m.entries, e)
	if len(m.entries) > m.maxSize {
		m.entries = append(m.entries[:0:0], m.entries[len(m.entries)-m.maxSize:]...)
	}
	return e, nil
}

// GetByID retrieves an entry by ID.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.entries {
		if m.entries[i].ID == id {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, core.NotFound("journal entry " + id)
}

// List returns entries matching the filter.
func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []Entry{}
	for _, e := range m.entries {
		if m.matches(e, filter) {
			result = append(result, e)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []Entry{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Count returns the count of matching entries.
func (m *MemoryStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, e := range m.entries {
		if m.matches(e, filter) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) matches(e Entry, filter ListFilter) bool {
	if filter.Symbol != "" && e.Symbol != filter.Symbol {
		return false
	}
	if filter.Outcome != "" && e.Outcome != filter.Outcome {
		return false
	}
	if !filter.From.IsZero() && e.At.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && e.At.After(filter.To) {
		return false
	}
	return true
}
