package message

import (
	"context"
)

// Store is the durable side of the engine. Implementations must enforce
// (thread_id, client_msg_id) uniqueness with an atomic check-and-insert,
// not read-then-write; everything else is ordinary row access.
type Store interface {
	// CreateThread persists a thread with its full participant set.
	CreateThread(ctx context.Context, t *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)

	// ListThreads returns the caller's threads ordered by last activity,
	// newest first, with the caller's watermark/mute view attached.
	ListThreads(ctx context.Context, userID string, limit int) ([]*ThreadSummary, error)

	// InsertMessage inserts m idempotently. created=false means the
	// (thread_id, client_msg_id) pair already existed; the returned
	// message is then the original row, unchanged.
	InsertMessage(ctx context.Context, m *Message) (stored *Message, created bool, err error)

	// PageMessages returns up to limit messages strictly ordered ascending
	// by (created_at, server_id). A nil cursor with direction Older means
	// the most recent page.
	PageMessages(ctx context.Context, threadID string, cur *Cursor, dir Direction, limit int) ([]*Message, error)

	GetMessage(ctx context.Context, threadID string, serverID int64) (*Message, error)

	// EditMessage/DeleteMessage are soft: they stamp edited_at/deleted_at
	// and return the updated row. The engine never hard-deletes.
	EditMessage(ctx context.Context, threadID string, serverID int64, body string, nowMS int64) (*Message, error)
	DeleteMessage(ctx context.Context, threadID string, serverID int64, nowMS int64) (*Message, error)

	// MarkDelivered lazily creates/advances receipts to delivered for the
	// given message ids. Already-read receipts are untouched.
	MarkDelivered(ctx context.Context, threadID, recipientID string, msgIDs []int64, nowMS int64) error

	// MarkRead advances every receipt with server_id <= upTo to read, in
	// ascending id order, and bumps the recipient's last_read watermark.
	// Idempotent: a smaller or equal upTo is a no-op. Returns the
	// watermark after the call and the ids that transitioned this time.
	MarkRead(ctx context.Context, threadID, recipientID string, upTo int64, nowMS int64) (lastRead int64, transitioned []int64, err error)

	GetReceipt(ctx context.Context, messageID int64, recipientID string) (*Receipt, error)

	// Blocked reports the symmetric block relation between two users:
	// whether a blocked b, and whether b blocked a.
	Blocked(ctx context.Context, a, b string) (aBlockedB, bBlockedA bool, err error)

	// SetThreadMute stores the caller's per-thread override. untilMS == 0
	// means indefinite while muted is true.
	SetThreadMute(ctx context.Context, threadID, userID string, muted bool, untilMS int64) error
	GetThreadMute(ctx context.Context, threadID, userID string) (muted bool, untilMS int64, err error)
}
