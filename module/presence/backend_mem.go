package presence

import (
	"context"
	"sync"
	"time"
)

// MemBackend implements Backend in memory with real TTL expiry; used by
// tests and single-node runs without redis.
type MemBackend struct {
	mu sync.Mutex
	m  map[string]memRec
}

type memRec struct {
	expireAt time.Time
	seenMS   int64
	online   bool
}

func NewMemBackend() *MemBackend {
	return &MemBackend{m: make(map[string]memRec)}
}

func (b *MemBackend) SetOnline(_ context.Context, userID string, ttl time.Duration, nowMS int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[userID] = memRec{online: true, expireAt: time.Now().Add(ttl), seenMS: nowMS}
	return nil
}

func (b *MemBackend) SetOffline(_ context.Context, userID string, nowMS int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[userID] = memRec{online: false, seenMS: nowMS}
	return nil
}

func (b *MemBackend) Lookup(_ context.Context, userID string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := Record{UserID: userID}
	r, ok := b.m[userID]
	if !ok {
		return rec, nil
	}
	rec.LastSeenMS = r.seenMS
	rec.Online = r.online && time.Now().Before(r.expireAt)
	return rec, nil
}
