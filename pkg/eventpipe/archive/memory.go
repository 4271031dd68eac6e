package archive

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for testing and single-run tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory archive store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Archive implements Store.
func (s *MemoryStore) Archive(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cp := *rec
	s.records[rec.EventID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List implements Store.
func (s *MemoryStore) List(limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	records := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].FailedAt.Before(records[j].FailedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.records, eventID)
	return nil
}

// PurgeOlderThan implements Store.
func (s *MemoryStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for id, rec := range s.records {
		if rec.FailedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Count implements Store.
func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	return len(s.records), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
