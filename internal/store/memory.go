package store

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. Records are copied on the way in and
// out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

func (s *MemoryStore) Load(_ context.Context, k Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[k]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// LoadLatest returns the newest record saved for userID.
func (s *MemoryStore) LoadLatest(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Record
	for k, r := range s.records {
		if k.UserID != userID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			r := r
			latest = &r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) Save(_ context.Context, k Key, r *Record) error {
	if err := validKey(k); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[k] = *r
	return nil
}
