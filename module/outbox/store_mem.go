package outbox

import (
	"context"
	"sort"
	"sync"
)

// MemStore is the in-memory Store for tests.
type MemStore struct {
	mu sync.Mutex
	m  map[string]*Item
}

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string]*Item)}
}

func itemKey(thread, cid string) string { return thread + "|" + cid }

func (s *MemStore) Put(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.m[itemKey(it.ThreadID, it.ClientMsgID)] = &cp
	return nil
}

func (s *MemStore) Delete(_ context.Context, threadID, clientMsgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, itemKey(threadID, clientMsgID))
	return nil
}

func (s *MemStore) Due(_ context.Context, nowMS int64) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, it := range s.m {
		if it.NextRetryAtMS <= nowMS {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return out, nil
}

func (s *MemStore) All(_ context.Context) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, it := range s.m {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return out, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
