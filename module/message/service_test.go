package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadline/tools/errs"
	"threadline/tools/ids"
)

type capturedEvent struct {
	kind string
	msg  *Message
}

type capturePublisher struct {
	events []capturedEvent
}

func (p *capturePublisher) PublishInsert(_ context.Context, m *Message) error {
	p.events = append(p.events, capturedEvent{"insert", m})
	return nil
}

func (p *capturePublisher) PublishUpdate(_ context.Context, m *Message) error {
	p.events = append(p.events, capturedEvent{"update", m})
	return nil
}

func (p *capturePublisher) PublishDelete(_ context.Context, m *Message) error {
	p.events = append(p.events, capturedEvent{"delete", m})
	return nil
}

type captureAnnouncer struct {
	read      [][]int64
	delivered [][]int64
}

func (a *captureAnnouncer) AnnounceRead(_ context.Context, _, _ string, ids []int64) error {
	a.read = append(a.read, ids)
	return nil
}

func (a *captureAnnouncer) AnnounceDelivered(_ context.Context, _, _ string, ids []int64) error {
	a.delivered = append(a.delivered, ids)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemStore, *capturePublisher) {
	t.Helper()
	store := NewMemStore()
	pub := &capturePublisher{}
	svc := NewService(store, ids.NewGenerator(1), pub)
	require.NoError(t, svc.CreateThread(context.Background(), &Thread{
		ID:           "t1",
		Participants: []string{"alice", "bob"},
	}))
	return svc, store, pub
}

func TestSend_IdempotentRetry(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	in := SendInput{ThreadID: "t1", ClientMsgID: "cid-1", SenderID: "alice", Body: "hi"}
	first, err := svc.Send(ctx, in)
	require.NoError(t, err)

	// Same client message id resubmitted: same row back, no second event.
	second, err := svc.Send(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Equal(t, first.CreatedAtMS, second.CreatedAtMS)
	assert.Len(t, pub.events, 1)
	assert.Equal(t, "insert", pub.events[0].kind)
}

func TestSend_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []SendInput{
		{ThreadID: "t1", ClientMsgID: "c", SenderID: "alice"},
		{ThreadID: "", ClientMsgID: "c", SenderID: "alice", Body: "x"},
		{ThreadID: "t1", ClientMsgID: "", SenderID: "alice", Body: "x"},
		{ThreadID: "t1", ClientMsgID: "c", SenderID: "", Body: "x"},
		{ThreadID: "t1", ClientMsgID: "c", SenderID: "alice", Body: bigBody(t)},
	}
	for i, in := range cases {
		_, err := svc.Send(ctx, in)
		require.Error(t, err, "case %d", i)
		assert.True(t, errs.ErrValidation.Is(err), "case %d: %v", i, err)
	}
}

func bigBody(t *testing.T) string {
	t.Helper()
	b := make([]byte, MaxBodyBytes+1)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestSend_NonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Send(context.Background(), SendInput{
		ThreadID: "t1", ClientMsgID: "c1", SenderID: "mallory", Body: "hi",
	})
	require.Error(t, err)
	assert.True(t, errs.ErrNotParticipant.Is(err))
}

func TestSend_BlockedBothDirections(t *testing.T) {
	ctx := context.Background()

	svc, store, _ := newTestService(t)
	store.Block("bob", "alice") // recipient blocked the sender
	_, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "alice", Body: "hi"})
	require.Error(t, err)
	assert.True(t, errs.ErrBlockedByRecipient.Is(err))

	svc2, store2, _ := newTestService(t)
	store2.Block("alice", "bob") // sender blocked the recipient
	_, err = svc2.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "alice", Body: "hi"})
	require.Error(t, err)
	assert.True(t, errs.ErrSenderBlockedRecipient.Is(err))
}

func TestReadPage_OrderAndPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Fixed clock so every message lands on the same millisecond and
	// ordering falls to the server id tie-break.
	at := time.UnixMilli(1700000000000)
	svc.WithClock(func() time.Time { return at })

	const total = 25
	for i := 0; i < total; i++ {
		_, err := svc.Send(ctx, SendInput{
			ThreadID: "t1", ClientMsgID: fmt.Sprintf("cid-%d", i),
			SenderID: "alice", Body: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
	}

	// Walk older pages from the top; concatenated pages must equal the
	// full ascending order with no gaps or duplicates.
	var collected []*Message
	cursor := ""
	for {
		page, err := svc.ReadPage(ctx, "bob", "t1", cursor, Older, 10)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		// Each page is ascending; prepend since we walk backwards.
		collected = append(append([]*Message{}, page...), collected...)
		cursor = CursorOf(page[0]).Encode()
	}
	require.Len(t, collected, total)
	for i := 1; i < len(collected); i++ {
		assert.Negative(t, CompareMessages(collected[i-1], collected[i]),
			"strictly ascending at %d", i)
	}

	// Newer direction from the oldest message yields the rest.
	newer, err := svc.ReadPage(ctx, "bob", "t1", CursorOf(collected[0]).Encode(), Newer, 100)
	require.NoError(t, err)
	assert.Len(t, newer, total-1)
}

func TestReadPage_BadCursor(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ReadPage(context.Background(), "bob", "t1", "!!!bad!!!", Older, 10)
	require.Error(t, err)
	assert.True(t, errs.ErrBadCursor.Is(err))
}

func TestMarkRead_WatermarkAndReceipts(t *testing.T) {
	svc, store, _ := newTestService(t)
	ann := &captureAnnouncer{}
	svc.WithAnnouncer(ann)
	ctx := context.Background()

	var sent []*Message
	for i := 0; i < 3; i++ {
		m, err := svc.Send(ctx, SendInput{
			ThreadID: "t1", ClientMsgID: fmt.Sprintf("c%d", i),
			SenderID: "alice", Body: "x",
		})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	last, err := svc.MarkRead(ctx, "t1", "bob", sent[1].ServerID)
	require.NoError(t, err)
	assert.Equal(t, sent[1].ServerID, last)
	require.Len(t, ann.read, 1)
	assert.Equal(t, []int64{sent[0].ServerID, sent[1].ServerID}, ann.read[0])

	// First two read, third untouched.
	r, err := store.GetReceipt(ctx, sent[0].ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptRead, r.State)
	r, err = store.GetReceipt(ctx, sent[2].ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptNone, r.State)

	// Re-marking the same watermark transitions nothing new.
	last, err = svc.MarkRead(ctx, "t1", "bob", sent[1].ServerID)
	require.NoError(t, err)
	assert.Equal(t, sent[1].ServerID, last)
	assert.Len(t, ann.read, 1)

	// Moving backwards is a no-op that still reports the high watermark.
	last, err = svc.MarkRead(ctx, "t1", "bob", sent[0].ServerID)
	require.NoError(t, err)
	assert.Equal(t, sent[1].ServerID, last)
}

func TestMarkRead_SkipsOwnMessages(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	mine, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "bob", Body: "x"})
	require.NoError(t, err)
	theirs, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c2", SenderID: "alice", Body: "y"})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, "t1", "bob", theirs.ServerID)
	require.NoError(t, err)

	r, err := store.GetReceipt(ctx, mine.ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptNone, r.State, "no receipt for the reader's own message")
	r, err = store.GetReceipt(ctx, theirs.ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptRead, r.State)
}

func TestEditDelete_SenderOnly(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "alice", Body: "v1"})
	require.NoError(t, err)

	_, err = svc.Edit(ctx, "bob", "t1", m.ServerID, "hacked")
	require.Error(t, err)

	edited, err := svc.Edit(ctx, "alice", "t1", m.ServerID, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", edited.Body)
	assert.Positive(t, edited.EditedAtMS)

	_, err = svc.Delete(ctx, "bob", "t1", m.ServerID)
	require.Error(t, err)

	deleted, err := svc.Delete(ctx, "alice", "t1", m.ServerID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted())

	kinds := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		kinds = append(kinds, e.kind)
	}
	assert.Equal(t, []string{"insert", "update", "delete"}, kinds)
}

func TestListThreads_NewestFirstWithCursor(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, ids.NewGenerator(2), nil)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for i := 0; i < 5; i++ {
		tid := fmt.Sprintf("t%d", i)
		require.NoError(t, svc.CreateThread(ctx, &Thread{
			ID: tid, Participants: []string{"alice", fmt.Sprintf("peer%d", i)},
		}))
		at := base.Add(time.Duration(i) * time.Minute)
		svc.WithClock(func() time.Time { return at })
		_, err := svc.Send(ctx, SendInput{
			ThreadID: tid, ClientMsgID: "c", SenderID: "alice", Body: "x",
		})
		require.NoError(t, err)
	}

	page1, next, err := svc.ListThreads(ctx, "alice", "", 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotEmpty(t, next)
	assert.Equal(t, "t4", page1[0].Thread.ID, "most recent activity first")

	page2, next2, err := svc.ListThreads(ctx, "alice", next, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.Empty(t, next2)
	assert.Equal(t, "t1", page2[0].Thread.ID)
}

func TestMarkDelivered_RequiresParticipant(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "alice", Body: "hi"})
	require.NoError(t, err)

	err = svc.MarkDelivered(ctx, "t1", "mallory", []int64{m.ServerID})
	require.Error(t, err)
	assert.True(t, errs.ErrNotParticipant.Is(err))

	r, err := store.GetReceipt(ctx, m.ServerID, "mallory")
	require.NoError(t, err)
	assert.Equal(t, ReceiptNone, r.State, "no receipt minted for an outsider")
}

func TestMarkDelivered_FiltersForeignAndOwnIDs(t *testing.T) {
	svc, store, _ := newTestService(t)
	ann := &captureAnnouncer{}
	svc.WithAnnouncer(ann)
	ctx := context.Background()

	fromAlice, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c1", SenderID: "alice", Body: "hi"})
	require.NoError(t, err)
	fromBob, err := svc.Send(ctx, SendInput{ThreadID: "t1", ClientMsgID: "c2", SenderID: "bob", Body: "yo"})
	require.NoError(t, err)

	// Bob acks his own message, a ghost id, and alice's message. Only the
	// last one is a legitimate receipt.
	err = svc.MarkDelivered(ctx, "t1", "bob", []int64{fromBob.ServerID, 999999, fromAlice.ServerID})
	require.NoError(t, err)

	r, err := store.GetReceipt(ctx, fromAlice.ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptDelivered, r.State)

	own, err := store.GetReceipt(ctx, fromBob.ServerID, "bob")
	require.NoError(t, err)
	assert.Equal(t, ReceiptNone, own.State)

	require.Len(t, ann.delivered, 1)
	assert.Equal(t, []int64{fromAlice.ServerID}, ann.delivered[0])
}

func TestListThreads_SameMillisecondPaging(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, ids.NewGenerator(2), nil)
	ctx := context.Background()

	// All four threads see their last activity on the same millisecond;
	// the server id tie-break must keep the page boundary stable.
	at := time.UnixMilli(1700000000000)
	svc.WithClock(func() time.Time { return at })
	for i := 0; i < 4; i++ {
		tid := fmt.Sprintf("t%d", i)
		require.NoError(t, svc.CreateThread(ctx, &Thread{
			ID: tid, Participants: []string{"alice", fmt.Sprintf("peer%d", i)},
		}))
		_, err := svc.Send(ctx, SendInput{
			ThreadID: tid, ClientMsgID: "c", SenderID: "alice", Body: "x",
		})
		require.NoError(t, err)
	}

	seen := map[string]int{}
	token := ""
	for pages := 0; pages < 4; pages++ {
		page, next, err := svc.ListThreads(ctx, "alice", token, 2)
		require.NoError(t, err)
		for _, sum := range page {
			seen[sum.Thread.ID]++
		}
		if next == "" {
			break
		}
		token = next
	}
	require.Len(t, seen, 4, "every thread shows up despite the timestamp tie")
	for tid, n := range seen {
		assert.Equal(t, 1, n, "thread %s paged exactly once", tid)
	}
}

func TestCreateThread_NeedsTwoParticipants(t *testing.T) {
	svc := NewService(NewMemStore(), ids.NewGenerator(3), nil)
	err := svc.CreateThread(context.Background(), &Thread{ID: "solo", Participants: []string{"alice"}})
	require.Error(t, err)
	assert.True(t, errs.ErrValidation.Is(err))
}
