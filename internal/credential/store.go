package credential

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// Record is the persisted credential state.
type Record struct {
	Active  Credential   `json:"active"`
	Grace   *Credential  `json:"grace,omitempty"`
	Retired []Credential `json:"retired,omitempty"`
}

// Store persists the credential record so a rotated key survives restarts.
type Store interface {
	Load() (Record, bool, error)
	Save(Record) error
	Close() error
}

// MemoryStore keeps the record in memory.
type MemoryStore struct {
	mu     sync.Mutex
	record *Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return Record{}, false, nil
	}
	return *s.record, true, nil
}

func (s *MemoryStore) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = &r
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var recordKey = []byte("tinkclaw/credentials")

// BadgerStore keeps the record in a Badger KV, optionally encrypted at rest.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte // 16, 24 or 32 bytes; nil opens without encryption
	InMemory      bool
}

// OpenBadger opens the credential store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("credential store: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if len(opts.EncryptionKey) > 0 {
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load() (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

func (s *BadgerStore) Save(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey, data)
	})
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ParseEncryptionKey decodes a 32-byte key given as hex or base64. An empty
// input returns nil.
func ParseEncryptionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("encryption key must be hex or base64 of 32 bytes")
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	return b, nil
}
