package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadline/module/message"
	"threadline/tools/errs"
)

// flakySender fails transiently failures times, then accepts. It records
// every client_msg_id it sees so tests can assert the retry identity.
type flakySender struct {
	mu       sync.Mutex
	failures int
	calls    []string
	err      error
}

func (f *flakySender) Send(_ context.Context, in message.SendInput) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in.ClientMsgID)
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return nil, f.err
		}
		return nil, errs.ErrStoreUnavailable.WithDetail("transient")
	}
	return &message.Message{
		ServerID:    int64(len(f.calls)),
		ThreadID:    in.ThreadID,
		SenderID:    in.SenderID,
		ClientMsgID: in.ClientMsgID,
		Body:        in.Body,
	}, nil
}

func (f *flakySender) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestScheduler_RetriesWithSameClientMsgID(t *testing.T) {
	store := NewMemStore()
	sender := &flakySender{failures: 2}

	now := time.UnixMilli(1700000000000)
	sched := NewScheduler(store, sender, "alice", time.Second).WithClock(func() time.Time { return now })

	var confirmed []*message.Message
	sched.OnConfirm = func(_ *Item, m *message.Message) { confirmed = append(confirmed, m) }

	ctx := context.Background()
	require.NoError(t, sched.Enqueue(ctx, &Item{ThreadID: "t1", ClientMsgID: "cid-1", Body: "hello"}))

	// Attempt 1: transient failure, rescheduled with bumped attempt count.
	sched.scan()
	items, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Greater(t, items[0].NextRetryAtMS, now.UnixMilli())

	// Not due yet: nothing happens.
	sched.scan()
	assert.Len(t, sender.seen(), 1)

	// Jump past the backoff window; attempt 2 also fails.
	now = now.Add(20 * time.Second)
	sched.scan()
	// And attempt 3 succeeds.
	now = now.Add(20 * time.Second)
	sched.scan()

	calls := sender.seen()
	require.Len(t, calls, 3)
	for _, cid := range calls {
		assert.Equal(t, "cid-1", cid, "every retry reuses the original client_msg_id")
	}
	require.Len(t, confirmed, 1)
	assert.Equal(t, "cid-1", confirmed[0].ClientMsgID)

	items, err = store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items, "confirmed item leaves the outbox")
}

func TestScheduler_NonRetryableFailsTerminally(t *testing.T) {
	store := NewMemStore()
	sender := &flakySender{failures: 1000, err: errs.ErrBlockedByRecipient.WithDetail("bob")}
	sched := NewScheduler(store, sender, "alice", time.Second)

	var failed []*Item
	sched.OnFail = func(it *Item, _ error) { failed = append(failed, it) }

	ctx := context.Background()
	require.NoError(t, sched.Enqueue(ctx, &Item{ThreadID: "t1", ClientMsgID: "cid-1", Body: "hello"}))

	sched.scan()

	assert.Len(t, sender.seen(), 1, "no retry after a terminal rejection")
	require.Len(t, failed, 1)
	assert.Equal(t, "cid-1", failed[0].ClientMsgID)

	items, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// blockingSender parks inside Send until released.
type blockingSender struct {
	entered chan struct{}
	release chan struct{}
	flaky   flakySender
}

func (b *blockingSender) Send(ctx context.Context, in message.SendInput) (*message.Message, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.flaky.Send(ctx, in)
}

func TestScheduler_InflightGate(t *testing.T) {
	store := NewMemStore()
	sender := &blockingSender{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	sched := NewScheduler(store, sender, "alice", time.Second)

	ctx := context.Background()
	require.NoError(t, sched.Enqueue(ctx, &Item{ThreadID: "t1", ClientMsgID: "cid-1", Body: "hello"}))

	done := make(chan struct{})
	go func() {
		sched.scan()
		close(done)
	}()
	<-sender.entered // first attempt is on the wire

	// A second scan while the first attempt is inflight must not produce
	// a concurrent duplicate.
	sched.scan()
	assert.Empty(t, sender.flaky.seen())

	close(sender.release)
	<-done
	assert.Len(t, sender.flaky.seen(), 1)
}

func TestScheduler_EnqueueValidates(t *testing.T) {
	sched := NewScheduler(NewMemStore(), &flakySender{}, "alice", time.Second)
	err := sched.Enqueue(context.Background(), &Item{ThreadID: "t1"})
	require.Error(t, err)
	assert.True(t, errs.ErrValidation.Is(err))
}

func TestScheduler_SurvivesRestartFromStore(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	// First process enqueues and dies before sending.
	first := NewScheduler(store, &flakySender{failures: 1000}, "alice", time.Second)
	require.NoError(t, first.Enqueue(ctx, &Item{ThreadID: "t1", ClientMsgID: "cid-1", Body: "hello"}))

	// A fresh scheduler over the same store picks the item up.
	sender := &flakySender{}
	second := NewScheduler(store, sender, "alice", time.Second)
	var confirmed int
	second.OnConfirm = func(*Item, *message.Message) { confirmed++ }
	second.scan()

	assert.Equal(t, []string{"cid-1"}, sender.seen())
	assert.Equal(t, 1, confirmed)
}
