package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart; intended for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, tokenHash string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, r := range s.records {
		if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
			delete(s.records, k)
		}
	}
	s.records[tokenHash] = *rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenHash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[tokenHash]; !ok {
		return ErrNotFound
	}
	delete(s.records, tokenHash)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
