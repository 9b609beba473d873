package bus

import (
	"sync"
	"time"

	"threadline/tools/safe"
)

// Idem is a TTL'd seen-set used to drop transport redeliveries on the
// consumer side (at-most-once handoff to the hub).
type Idem struct {
	mu   sync.Mutex
	m    map[string]int64 // key -> expiry unix
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewIdem(ttl time.Duration) *Idem {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	i := &Idem{m: make(map[string]int64), ttl: ttl, stop: make(chan struct{})}
	safe.Go(func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-i.stop:
				return
			case <-t.C:
				now := time.Now().Unix()
				i.mu.Lock()
				for k, exp := range i.m {
					if exp <= now {
						delete(i.m, k)
					}
				}
				i.mu.Unlock()
			}
		}
	})
	return i
}

// SeenOnce records key and reports whether it had been seen already.
func (i *Idem) SeenOnce(key string) bool {
	now := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	if exp, ok := i.m[key]; ok && exp > now.Unix() {
		return true
	}
	i.m[key] = now.Add(i.ttl).Unix()
	return false
}

// Close stops the cleanup goroutine. Idempotent.
func (i *Idem) Close() {
	i.once.Do(func() { close(i.stop) })
}
