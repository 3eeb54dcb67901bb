package billing

import (
	"context"
	"sync"
)

// MemoryStore keeps bill lines in process, for deployments without a
// database and for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	lines []*BillLine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveBillLine(_ context.Context, line *BillLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *line
	s.lines = append(s.lines, &copied)
	return nil
}

func (s *MemoryStore) BillForOwner(_ context.Context, owner string) ([]*BillLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BillLine
	for _, line := range s.lines {
		if line.Owner == owner {
			copied := *line
			out = append(out, &copied)
		}
	}
	return out, nil
}
