package outbox

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"threadline/logger"
	"threadline/module/message"
	"threadline/tools/errs"
)

// Sender issues the idempotent send. Implemented by the HTTP client on
// devices and by message.Service directly in tests.
type Sender interface {
	Send(ctx context.Context, in message.SendInput) (*message.Message, error)
}

// Scheduler drives the outbox: a recurring timer scans for due items and
// re-issues each with its original client_msg_id. The inflight set is the
// gate that keeps at most one retry of an item on the wire at a time; it
// is memory-only, so a crash simply re-queues everything Pending.
type Scheduler struct {
	store  Store
	sender Sender
	userID string

	interval time.Duration
	now      func() time.Time
	rng      *rand.Rand

	// OnConfirm fires after durable server persistence (reconcile hook).
	OnConfirm func(it *Item, m *message.Message)
	// OnFail fires on a terminal, non-retryable rejection.
	OnFail func(it *Item, err error)

	mu       sync.Mutex
	inflight map[string]struct{}

	kick     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(store Store, sender Sender, userID string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Scheduler{
		store:    store,
		sender:   sender,
		userID:   userID,
		interval: interval,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		inflight: make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// WithClock swaps the time source; tests only.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Enqueue appends durably before any network call, then nudges the loop.
// The durable write is what survives offline periods and restarts.
func (s *Scheduler) Enqueue(ctx context.Context, it *Item) error {
	if it.ThreadID == "" || it.ClientMsgID == "" {
		return errs.ErrValidation.WithDetail("thread_id and client_msg_id required")
	}
	if it.CreatedAtMS == 0 {
		it.CreatedAtMS = s.now().UnixMilli()
	}
	if err := s.store.Put(ctx, it); err != nil {
		return err
	}
	s.Kick()
	return nil
}

// Kick requests an immediate scan without waiting for the next tick.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start runs the retry loop until Stop. The loop is a recurring timer,
// never a blocking spin.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tick := time.NewTicker(s.interval)
		defer tick.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-tick.C:
			case <-s.kick:
			}
			s.scan()
		}
	}()
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// scan attempts every due item once. In-flight items are skipped so a
// slow request spanning several ticks never gets a concurrent duplicate.
func (s *Scheduler) scan() {
	ctx := context.Background()
	due, err := s.store.Due(ctx, s.now().UnixMilli())
	if err != nil {
		logger.Warn("outbox scan failed", zap.Error(err))
		return
	}
	for _, it := range due {
		key := itemKey(it.ThreadID, it.ClientMsgID)
		s.mu.Lock()
		if _, busy := s.inflight[key]; busy {
			s.mu.Unlock()
			continue
		}
		s.inflight[key] = struct{}{}
		s.mu.Unlock()

		s.attempt(ctx, it, key)
	}
}

func (s *Scheduler) attempt(ctx context.Context, it *Item, key string) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	m, err := s.sender.Send(ctx, message.SendInput{
		ThreadID:    it.ThreadID,
		ClientMsgID: it.ClientMsgID, // same id on every retry
		SenderID:    s.userID,
		Kind:        it.Kind,
		Body:        it.Body,
		Attachments: it.Attachments,
	})
	switch {
	case err == nil:
		if derr := s.store.Delete(ctx, it.ThreadID, it.ClientMsgID); derr != nil {
			logger.Warn("outbox delete after confirm failed", zap.Error(derr))
		}
		if s.OnConfirm != nil {
			s.OnConfirm(it, m)
		}
	case errs.NonRetryable(err):
		// Terminal rejection: surface as failed, do not retry.
		if derr := s.store.Delete(ctx, it.ThreadID, it.ClientMsgID); derr != nil {
			logger.Warn("outbox delete after reject failed", zap.Error(derr))
		}
		if s.OnFail != nil {
			s.OnFail(it, err)
		}
	default:
		// Transient: reschedule. Retrying is safe indefinitely because the
		// insert is idempotent on (thread_id, client_msg_id).
		it.Attempts++
		it.NextRetryAtMS = s.now().UnixMilli() + Delay(it.Attempts, Jitter(s.rng)).Milliseconds()
		if perr := s.store.Put(ctx, it); perr != nil {
			logger.Warn("outbox reschedule failed", zap.Error(perr))
		}
	}
}
