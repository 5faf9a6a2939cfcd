package ratelimit

import (
	"sync"
	"time"
)

// Record is the fixed-window counter of one ip:category key.
type Record struct {
	Count   int
	ResetAt time.Time
}

// Store holds rate-limit records. The Limiter serializes check-and-increment,
// implementations only need to be safe for concurrent Sweep calls.
type Store interface {
	Get(key string) (Record, bool)
	Set(key string, r Record)
	// Sweep deletes records whose window ended before now and returns how many were removed.
	Sweep(now time.Time) int
	Len() int
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok
}

func (s *MemoryStore) Set(key string, r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = r
}

func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if now.After(r.ResetAt) {
			delete(s.records, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
