package quota

import (
	"sync"
)

// Counter is the usage of one credential on one calendar day.
type Counter struct {
	CredentialID string `json:"credential_id"`
	Day          string `json:"day"`
	Used         int    `json:"used"`
	Limit        int    `json:"limit"`
}

// Remaining returns the calls left in the bucket.
func (c Counter) Remaining() int {
	if c.Used >= c.Limit {
		return 0
	}
	return c.Limit - c.Used
}

// Store persists day counters.
type Store interface {
	Load(credentialID, day string) (Counter, bool, error)
	Save(c Counter) error
	// Prune removes counters for days strictly before the given day.
	Prune(before string) error
	Close() error
}

type bucketKey struct {
	credentialID string
	day          string
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[bucketKey]Counter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[bucketKey]Counter)}
}

func (s *MemoryStore) Load(credentialID, day string) (Counter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[bucketKey{credentialID, day}]
	return c, ok, nil
}

func (s *MemoryStore) Save(c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[bucketKey{c.CredentialID, c.Day}] = c
	return nil
}

func (s *MemoryStore) Prune(before string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if k.day < before {
			delete(s.counters, k)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
