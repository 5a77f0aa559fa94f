package cache

import (
	"context"
	"sync"
)

// MemorySeenSet ограниченный набор адресов в памяти; при переполнении вытесняются самые старые.
type MemorySeenSet struct {
	mu    sync.Mutex
	limit int
	items map[string]struct{}
	order []string
}

// NewMemorySeenSet создаёт набор на limit адресов.
func NewMemorySeenSet(limit int) *MemorySeenSet {
	if limit <= 0 {
		limit = 10000
	}
	return &MemorySeenSet{limit: limit, items: make(map[string]struct{}, limit)}
}

func (s *MemorySeenSet) Seen(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[url]
	return ok, nil
}

func (s *MemorySeenSet) Add(_ context.Context, urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		if _, ok := s.items[u]; ok {
			continue
		}
		s.items[u] = struct{}{}
		s.order = append(s.order, u)
		if len(s.order) > s.limit {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.items, oldest)
		}
	}
	return nil
}
