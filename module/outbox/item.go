package outbox

import (
	"context"

	"threadline/module/message"
)

// State is the explicit per-item lifecycle. Pending items live in the
// durable store; InFlight exists only in the scheduler's memory, so a
// restart naturally falls back to Pending and retries with the same
// client_msg_id.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateConfirmed
	StateFailed
)

// Item is one queued send. The client_msg_id is minted at enqueue time
// and never regenerated; that is the linchpin of loss-less delivery
// without duplication.
type Item struct {
	ThreadID      string               `json:"thread_id"`
	ClientMsgID   string               `json:"client_msg_id"`
	Kind          message.Kind         `json:"kind"`
	Body          string               `json:"body"`
	Attachments   []message.Attachment `json:"attachments,omitempty"`
	Attempts      int                  `json:"attempts"`
	NextRetryAtMS int64                `json:"next_retry_at_ms"`
	CreatedAtMS   int64                `json:"created_at_ms"`
}

// Store is the durable local queue, keyed by (thread_id, client_msg_id).
// It must survive process restarts.
type Store interface {
	// Put upserts the item.
	Put(ctx context.Context, it *Item) error
	// Delete removes the item after confirmed persistence or terminal
	// failure. Deleting an absent item is a no-op.
	Delete(ctx context.Context, threadID, clientMsgID string) error
	// Due returns items whose NextRetryAtMS <= nowMS, oldest first.
	Due(ctx context.Context, nowMS int64) ([]*Item, error)
	// All returns everything queued, oldest first.
	All(ctx context.Context) ([]*Item, error)
	Close() error
}
