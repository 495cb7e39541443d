package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]Transcript
	now  func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]Transcript), now: time.Now}
}

func (s *MemStore) Save(_ context.Context, t *Transcript) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t.UpdatedAt = now
	if old, ok := s.byID[t.ID]; ok {
		t.CreatedAt = old.CreatedAt
	} else {
		t.CreatedAt = now
	}
	cp := *t
	cp.Segments = slices.Clone(t.Segments)
	s.byID[t.ID] = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	t.Segments = slices.Clone(t.Segments)
	return &t, nil
}

func (s *MemStore) List(_ context.Context, limit int) ([]Transcript, error) {
	s.mu.RLock()
	out := make([]Transcript, 0, len(s.byID))
	for _, t := range s.byID {
		t.Segments = slices.Clone(t.Segments)
		out = append(out, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Transcript) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
	return nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
