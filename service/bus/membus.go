package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"threadline/logger"
)

// MemBus is the in-process Bus for single-node runs and tests. Delivery
// is synchronous and in publish order.
type MemBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]Handler
	seen   map[string]struct{}
	closed bool
}

func NewMemBus() *MemBus {
	return &MemBus{
		subs: make(map[int]Handler),
		seen: make(map[string]struct{}),
	}
}

func (b *MemBus) Publish(ctx context.Context, threadID string, payload []byte, msgID string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	if msgID != "" {
		if _, dup := b.seen[msgID]; dup {
			b.mu.Unlock()
			return nil
		}
		b.seen[msgID] = struct{}{}
	}
	hs := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		if err := h(ctx, threadID, payload); err != nil {
			logger.Warn("membus handler failed", zap.String("thread", threadID), zap.Error(err))
		}
	}
	return nil
}

func (b *MemBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}, nil
}

func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]Handler)
	return nil
}

var _ Bus = (*MemBus)(nil)
