package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"threadline/logger"
)

// Record is a user's ephemeral presence view. Online is best-effort: a
// crashed client holds its record until the TTL runs out, so nothing
// correctness-critical may hang off it.
type Record struct {
	UserID     string `json:"user_id"`
	Online     bool   `json:"online"`
	LastSeenMS int64  `json:"last_seen_ms"`
}

// Backend stores presence records with a TTL.
type Backend interface {
	SetOnline(ctx context.Context, userID string, ttl time.Duration, nowMS int64) error
	SetOffline(ctx context.Context, userID string, nowMS int64) error
	Lookup(ctx context.Context, userID string) (Record, error)
}

// Update is a join/leave delta pushed to watchers.
type Update struct {
	Record Record
}

// Tracker is an explicitly constructed presence service: heartbeats renew
// a TTL'd record, explicit offline deletes it, watchers get the current
// state synchronously plus deltas. A sweep timer re-checks watched users
// so that a missed offline announcement eventually surfaces as offline.
type Tracker struct {
	backend Backend
	ttl     time.Duration

	mu       sync.Mutex
	watchers map[string]map[chan Update]struct{} // userID -> subscriber channels
	lastSeen map[string]bool                     // userID -> last published online state

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewTracker(backend Backend, ttl, sweepEvery time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = 15 * time.Second
	}
	t := &Tracker{
		backend:  backend,
		ttl:      ttl,
		watchers: make(map[string]map[chan Update]struct{}),
		lastSeen: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
	go t.sweeper(sweepEvery)
	return t
}

// Close stops the sweeper and closes all watcher channels.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.mu.Lock()
		for _, subs := range t.watchers {
			for ch := range subs {
				close(ch)
			}
		}
		t.watchers = make(map[string]map[chan Update]struct{})
		t.mu.Unlock()
	})
}

// Heartbeat marks the user online and renews the TTL. Errors are logged,
// never fatal: a failed heartbeat must not interrupt message delivery.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) {
	now := time.Now().UnixMilli()
	if err := t.backend.SetOnline(ctx, userID, t.ttl, now); err != nil {
		logger.Warn("presence heartbeat failed", zap.String("user", userID), zap.Error(err))
		return
	}
	t.publish(Record{UserID: userID, Online: true, LastSeenMS: now})
}

// Offline is the explicit goodbye on unmount/unload.
func (t *Tracker) Offline(ctx context.Context, userID string) {
	now := time.Now().UnixMilli()
	if err := t.backend.SetOffline(ctx, userID, now); err != nil {
		logger.Warn("presence offline failed", zap.String("user", userID), zap.Error(err))
		return
	}
	t.publish(Record{UserID: userID, Online: false, LastSeenMS: now})
}

// Lookup reads the current record.
func (t *Tracker) Lookup(ctx context.Context, userID string) (Record, error) {
	return t.backend.Lookup(ctx, userID)
}

// Watch subscribes to one user's presence. The current state is delivered
// synchronously as the first update; Unwatch cancels just this
// subscription without touching the others.
func (t *Tracker) Watch(ctx context.Context, userID string) (<-chan Update, func()) {
	ch := make(chan Update, 8)

	t.mu.Lock()
	subs := t.watchers[userID]
	if subs == nil {
		subs = make(map[chan Update]struct{})
		t.watchers[userID] = subs
	}
	subs[ch] = struct{}{}
	t.mu.Unlock()

	rec, err := t.backend.Lookup(ctx, userID)
	if err != nil {
		rec = Record{UserID: userID}
	}
	ch <- Update{Record: rec}

	cancel := func() {
		t.mu.Lock()
		if subs, ok := t.watchers[userID]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(t.watchers, userID)
			}
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) publish(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.lastSeen[rec.UserID]
	if seen && prev == rec.Online {
		return // heartbeat renewals are not deltas
	}
	t.lastSeen[rec.UserID] = rec.Online
	for ch := range t.watchers[rec.UserID] {
		select {
		case ch <- Update{Record: rec}:
		default:
			// Slow watcher: drop rather than block the tracker.
		}
	}
}

// sweeper re-reads watched users so TTL expiry (crashed clients) turns
// into a leave delta.
func (t *Tracker) sweeper(every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-tick.C:
			t.mu.Lock()
			users := make([]string, 0, len(t.watchers))
			for u := range t.watchers {
				users = append(users, u)
			}
			t.mu.Unlock()
			for _, u := range users {
				rec, err := t.backend.Lookup(context.Background(), u)
				if err != nil {
					continue
				}
				t.publish(rec)
			}
		}
	}
}
