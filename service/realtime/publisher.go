package realtime

import (
	"context"
	"fmt"
	"time"

	"threadline/module/message"
	"threadline/service/bus"
)

// Publisher turns store-side changes into bus events. It satisfies the
// message engine's fan-out hooks so the store layer never imports this
// package.
type Publisher struct {
	bus bus.Bus
	now func() time.Time
}

func NewPublisher(b bus.Bus) *Publisher {
	return &Publisher{bus: b, now: time.Now}
}

var (
	_ message.EventPublisher   = (*Publisher)(nil)
	_ message.ReceiptAnnouncer = (*Publisher)(nil)
)

func (p *Publisher) publish(ctx context.Context, e *Event, msgID string) error {
	payload, err := e.Encode()
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, e.ThreadID, payload, msgID)
}

// PublishInsert keys dedup on the client message id: a bus retry of
// the same insert collapses to one delivery.
func (p *Publisher) PublishInsert(ctx context.Context, m *message.Message) error {
	return p.publish(ctx, NewInsertEvent(m), "ins:"+m.ThreadID+":"+m.ClientMsgID)
}

func (p *Publisher) PublishUpdate(ctx context.Context, m *message.Message) error {
	msgID := fmt.Sprintf("upd:%s:%d:%d", m.ThreadID, m.ServerID, m.EditedAtMS)
	return p.publish(ctx, NewUpdateEvent(m), msgID)
}

func (p *Publisher) PublishDelete(ctx context.Context, m *message.Message) error {
	msgID := fmt.Sprintf("del:%s:%d", m.ThreadID, m.ServerID)
	return p.publish(ctx, NewDeleteEvent(m), msgID)
}

func (p *Publisher) AnnounceRead(ctx context.Context, threadID, readerID string, msgIDs []int64) error {
	e := NewReadEvent(threadID, readerID, msgIDs, p.now().UnixMilli())
	msgID := fmt.Sprintf("read:%s:%s:%d", threadID, readerID, msgIDs[len(msgIDs)-1])
	return p.publish(ctx, e, msgID)
}

func (p *Publisher) AnnounceDelivered(ctx context.Context, threadID, recipientID string, msgIDs []int64) error {
	e := NewDeliveredEvent(threadID, recipientID, msgIDs, p.now().UnixMilli())
	msgID := fmt.Sprintf("dlv:%s:%s:%d", threadID, recipientID, msgIDs[len(msgIDs)-1])
	return p.publish(ctx, e, msgID)
}

// AnnounceTyping is fire-and-forget; typing events are never deduped
// because every keystroke burst is a fresh signal.
func (p *Publisher) AnnounceTyping(ctx context.Context, threadID, userID string) error {
	at := p.now().UnixMilli()
	e := NewTypingEvent(threadID, userID, at)
	return p.publish(ctx, e, fmt.Sprintf("typ:%s:%s:%d", threadID, userID, at))
}
