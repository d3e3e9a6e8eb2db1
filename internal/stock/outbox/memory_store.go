package outbox

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used when Redis is not configured and
// by tests. Entries do not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	lists  map[Priority][]*Entry
	failed []*Entry
}

// NewMemoryStore creates an empty in-memory outbox store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[Priority][]*Entry)}
}

func (s *MemoryStore) Push(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[e.Priority] = append(s.lists[e.Priority], e)
	return nil
}

func (s *MemoryStore) Pop(ctx context.Context, p Priority) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[p]
	if len(list) == 0 {
		return nil, nil
	}
	entry := list[0]
	s.lists[p] = list[1:]
	return entry, nil
}

func (s *MemoryStore) Len(ctx context.Context, p Priority) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[p])), nil
}

func (s *MemoryStore) Fail(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, e)
	return nil
}

// Failed returns a copy of the permanently failed entries.
func (s *MemoryStore) Failed() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.failed))
	copy(out, s.failed)
	return out
}
