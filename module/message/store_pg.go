package message

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threadline/tools/errs"
)

// PgStore is the production Store on Postgres. The idempotent-insert
// contract rides on the UNIQUE (thread_id, client_msg_id) constraint plus
// ON CONFLICT DO NOTHING, so two racing sends can never both create a row.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS threads (
	id            text PRIMARY KEY,
	title         text NOT NULL DEFAULT '',
	is_group      boolean NOT NULL DEFAULT false,
	created_at_ms bigint NOT NULL
);
CREATE TABLE IF NOT EXISTS thread_members (
	thread_id        text NOT NULL REFERENCES threads(id),
	user_id          text NOT NULL,
	last_read_msg_id bigint NOT NULL DEFAULT 0,
	muted            boolean NOT NULL DEFAULT false,
	muted_until_ms   bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (thread_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	server_id     bigint PRIMARY KEY,
	thread_id     text NOT NULL REFERENCES threads(id),
	sender_id     text NOT NULL,
	client_msg_id text NOT NULL,
	kind          smallint NOT NULL,
	body          text NOT NULL DEFAULT '',
	attachments   jsonb,
	created_at_ms bigint NOT NULL,
	edited_at_ms  bigint NOT NULL DEFAULT 0,
	deleted_at_ms bigint NOT NULL DEFAULT 0,
	UNIQUE (thread_id, client_msg_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_order
	ON messages (thread_id, created_at_ms, server_id);
CREATE TABLE IF NOT EXISTS receipts (
	message_id      bigint NOT NULL,
	recipient_id    text NOT NULL,
	state           smallint NOT NULL DEFAULT 0,
	delivered_at_ms bigint NOT NULL DEFAULT 0,
	read_at_ms      bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (message_id, recipient_id)
);
CREATE TABLE IF NOT EXISTS blocks (
	blocker_id text NOT NULL,
	blocked_id text NOT NULL,
	PRIMARY KEY (blocker_id, blocked_id)
);
`

// EnsureSchema creates tables on first boot. Idempotent.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return errs.WrapMsg(err, "ensure schema")
}

func (s *PgStore) CreateThread(ctx context.Context, t *Thread) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO threads (id, title, is_group, created_at_ms) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Title, t.IsGroup, t.CreatedAtMS)
	if err != nil {
		return errs.WrapMsg(err, "insert thread", "thread", t.ID)
	}
	for _, p := range t.Participants {
		_, err = tx.Exec(ctx,
			`INSERT INTO thread_members (thread_id, user_id) VALUES ($1,$2)
			 ON CONFLICT DO NOTHING`, t.ID, p)
		if err != nil {
			return errs.WrapMsg(err, "insert member", "thread", t.ID, "user", p)
		}
	}
	return errs.Wrap(tx.Commit(ctx))
}

func (s *PgStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	t := &Thread{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT title, is_group, created_at_ms FROM threads WHERE id=$1`, id).
		Scan(&t.Title, &t.IsGroup, &t.CreatedAtMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WithDetail("thread " + id)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM thread_members WHERE thread_id=$1 ORDER BY user_id`, id)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errs.Wrap(err)
		}
		t.Participants = append(t.Participants, u)
	}
	return t, errs.Wrap(rows.Err())
}

func (s *PgStore) ListThreads(ctx context.Context, userID string, limit int) ([]*ThreadSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.title, t.is_group, t.created_at_ms,
		        tm.last_read_msg_id, tm.muted, tm.muted_until_ms
		 FROM threads t JOIN thread_members tm ON tm.thread_id = t.id
		 WHERE tm.user_id = $1`, userID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var out []*ThreadSummary
	for rows.Next() {
		t := &Thread{}
		sum := &ThreadSummary{Thread: t}
		if err := rows.Scan(&t.ID, &t.Title, &t.IsGroup, &t.CreatedAtMS,
			&sum.LastReadMsgID, &sum.Muted, &sum.MutedUntilMS); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err)
	}

	for _, sum := range out {
		full, err := s.GetThread(ctx, sum.Thread.ID)
		if err != nil {
			return nil, err
		}
		sum.Thread = full

		last, err := s.lastMessage(ctx, full.ID)
		if err != nil {
			return nil, err
		}
		sum.LastMessage = last

		err = s.pool.QueryRow(ctx,
			`SELECT count(*) FROM messages
			 WHERE thread_id=$1 AND server_id > $2 AND sender_id <> $3 AND deleted_at_ms = 0`,
			full.ID, sum.LastReadMsgID, userID).Scan(&sum.UnreadCount)
		if err != nil {
			return nil, errs.Wrap(err)
		}
	}

	// Most recently active first; threads with no messages sort by creation.
	sort.SliceStable(out, func(i, j int) bool {
		return activityCursor(out[i]).Compare(activityCursor(out[j])) > 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func activityMS(s *ThreadSummary) int64 {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAtMS
	}
	return s.Thread.CreatedAtMS
}

func (s *PgStore) lastMessage(ctx context.Context, threadID string) (*Message, error) {
	m, err := s.scanOne(s.pool.QueryRow(ctx, selectMsg+
		` WHERE thread_id=$1 ORDER BY created_at_ms DESC, server_id DESC LIMIT 1`, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

const selectMsg = `SELECT server_id, thread_id, sender_id, client_msg_id, kind,
	body, attachments, created_at_ms, edited_at_ms, deleted_at_ms FROM messages`

type rowScanner interface{ Scan(dest ...any) error }

func (s *PgStore) scanOne(r rowScanner) (*Message, error) {
	m := &Message{}
	var att []byte
	err := r.Scan(&m.ServerID, &m.ThreadID, &m.SenderID, &m.ClientMsgID, &m.Kind,
		&m.Body, &att, &m.CreatedAtMS, &m.EditedAtMS, &m.DeletedAtMS)
	if err != nil {
		return nil, err
	}
	if len(att) > 0 {
		if err := json.Unmarshal(att, &m.Attachments); err != nil {
			return nil, errs.WrapMsg(err, "decode attachments", "server_id", m.ServerID)
		}
	}
	return m, nil
}

func (s *PgStore) InsertMessage(ctx context.Context, m *Message) (*Message, bool, error) {
	att, err := json.Marshal(m.Attachments)
	if err != nil {
		return nil, false, errs.Wrap(err)
	}
	if len(m.Attachments) == 0 {
		att = nil
	}
	var got int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages
		   (server_id, thread_id, sender_id, client_msg_id, kind, body, attachments, created_at_ms)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (thread_id, client_msg_id) DO NOTHING
		 RETURNING server_id`,
		m.ServerID, m.ThreadID, m.SenderID, m.ClientMsgID, m.Kind, m.Body, att, m.CreatedAtMS).
		Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict-as-success: return the original row unchanged.
		existing, err := s.scanOne(s.pool.QueryRow(ctx,
			selectMsg+` WHERE thread_id=$1 AND client_msg_id=$2`, m.ThreadID, m.ClientMsgID))
		if err != nil {
			return nil, false, errs.WrapMsg(err, "reload after conflict",
				"thread", m.ThreadID, "client_msg_id", m.ClientMsgID)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "insert message", "thread", m.ThreadID)
	}
	cp := *m
	return &cp, true, nil
}

func (s *PgStore) PageMessages(ctx context.Context, threadID string, cur *Cursor, dir Direction, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	descending := false
	switch {
	case dir == Older && cur == nil:
		// Most recent page.
		rows, err = s.pool.Query(ctx, selectMsg+
			` WHERE thread_id=$1 ORDER BY created_at_ms DESC, server_id DESC LIMIT $2`,
			threadID, limit)
		descending = true
	case dir == Older:
		rows, err = s.pool.Query(ctx, selectMsg+
			` WHERE thread_id=$1 AND (created_at_ms, server_id) < ($2, $3)
			  ORDER BY created_at_ms DESC, server_id DESC LIMIT $4`,
			threadID, cur.CreatedAtMS, cur.ServerID, limit)
		descending = true
	case cur == nil: // Newer from the start of the thread
		rows, err = s.pool.Query(ctx, selectMsg+
			` WHERE thread_id=$1 ORDER BY created_at_ms ASC, server_id ASC LIMIT $2`,
			threadID, limit)
	default:
		rows, err = s.pool.Query(ctx, selectMsg+
			` WHERE thread_id=$1 AND (created_at_ms, server_id) > ($2, $3)
			  ORDER BY created_at_ms ASC, server_id ASC LIMIT $4`,
			threadID, cur.CreatedAtMS, cur.ServerID, limit)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := s.scanOne(rows)
		if err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err)
	}
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *PgStore) GetMessage(ctx context.Context, threadID string, serverID int64) (*Message, error) {
	m, err := s.scanOne(s.pool.QueryRow(ctx,
		selectMsg+` WHERE thread_id=$1 AND server_id=$2`, threadID, serverID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WithDetail("message")
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return m, nil
}

func (s *PgStore) EditMessage(ctx context.Context, threadID string, serverID int64, body string, nowMS int64) (*Message, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET body=$1, edited_at_ms=$2
		 WHERE thread_id=$3 AND server_id=$4 AND deleted_at_ms = 0`,
		body, nowMS, threadID, serverID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.ErrNotFound.WithDetail("message")
	}
	return s.GetMessage(ctx, threadID, serverID)
}

func (s *PgStore) DeleteMessage(ctx context.Context, threadID string, serverID int64, nowMS int64) (*Message, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET body='', attachments=NULL, deleted_at_ms=$1
		 WHERE thread_id=$2 AND server_id=$3 AND deleted_at_ms = 0`,
		nowMS, threadID, serverID)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.ErrNotFound.WithDetail("message")
	}
	return s.GetMessage(ctx, threadID, serverID)
}

func (s *PgStore) MarkDelivered(ctx context.Context, threadID, recipientID string, msgIDs []int64, nowMS int64) error {
	for _, id := range msgIDs {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO receipts (message_id, recipient_id, state, delivered_at_ms)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (message_id, recipient_id) DO UPDATE
			 SET state = GREATEST(receipts.state, EXCLUDED.state),
			     delivered_at_ms = CASE WHEN receipts.delivered_at_ms = 0
			                            THEN EXCLUDED.delivered_at_ms
			                            ELSE receipts.delivered_at_ms END`,
			id, recipientID, ReceiptDelivered, nowMS)
		if err != nil {
			return errs.WrapMsg(err, "mark delivered", "message_id", id)
		}
	}
	return nil
}

func (s *PgStore) MarkRead(ctx context.Context, threadID, recipientID string, upTo int64, nowMS int64) (int64, []int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, nil, errs.Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var last int64
	err = tx.QueryRow(ctx,
		`SELECT last_read_msg_id FROM thread_members
		 WHERE thread_id=$1 AND user_id=$2 FOR UPDATE`, threadID, recipientID).
		Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, errs.ErrNotParticipant.WithDetail(recipientID)
	}
	if err != nil {
		return 0, nil, errs.Wrap(err)
	}
	if upTo <= last {
		// Same or smaller watermark: nothing to do.
		return last, nil, nil
	}

	// Ascending id order so a crash mid-update can never leave a later
	// message read while an earlier one stays none; the watermark is the
	// externally visible checkpoint.
	rows, err := tx.Query(ctx,
		`SELECT server_id FROM messages
		 WHERE thread_id=$1 AND server_id > $2 AND server_id <= $3 AND sender_id <> $4
		 ORDER BY server_id ASC`, threadID, last, upTo, recipientID)
	if err != nil {
		return 0, nil, errs.Wrap(err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, nil, errs.Wrap(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, errs.Wrap(err)
	}

	for _, id := range ids {
		_, err = tx.Exec(ctx,
			`INSERT INTO receipts (message_id, recipient_id, state, delivered_at_ms, read_at_ms)
			 VALUES ($1,$2,$3,$4,$4)
			 ON CONFLICT (message_id, recipient_id) DO UPDATE
			 SET state = GREATEST(receipts.state, EXCLUDED.state),
			     delivered_at_ms = CASE WHEN receipts.delivered_at_ms = 0
			                            THEN EXCLUDED.delivered_at_ms
			                            ELSE receipts.delivered_at_ms END,
			     read_at_ms = CASE WHEN receipts.state >= $3 THEN receipts.read_at_ms
			                       ELSE EXCLUDED.read_at_ms END`,
			id, recipientID, ReceiptRead, nowMS)
		if err != nil {
			return 0, nil, errs.WrapMsg(err, "mark read", "message_id", id)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE thread_members SET last_read_msg_id = GREATEST(last_read_msg_id, $1)
		 WHERE thread_id=$2 AND user_id=$3`, upTo, threadID, recipientID)
	if err != nil {
		return 0, nil, errs.Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, errs.Wrap(err)
	}
	return upTo, ids, nil
}

func (s *PgStore) GetReceipt(ctx context.Context, messageID int64, recipientID string) (*Receipt, error) {
	r := &Receipt{MessageID: messageID, RecipientID: recipientID}
	err := s.pool.QueryRow(ctx,
		`SELECT state, delivered_at_ms, read_at_ms FROM receipts
		 WHERE message_id=$1 AND recipient_id=$2`, messageID, recipientID).
		Scan(&r.State, &r.DeliveredAtMS, &r.ReadAtMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, nil // lazily created: absent row means ReceiptNone
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return r, nil
}

func (s *PgStore) Blocked(ctx context.Context, a, b string) (bool, bool, error) {
	var ab, ba bool
	err := s.pool.QueryRow(ctx,
		`SELECT
		   EXISTS (SELECT 1 FROM blocks WHERE blocker_id=$1 AND blocked_id=$2),
		   EXISTS (SELECT 1 FROM blocks WHERE blocker_id=$2 AND blocked_id=$1)`,
		a, b).Scan(&ab, &ba)
	if err != nil {
		return false, false, errs.Wrap(err)
	}
	return ab, ba, nil
}

func (s *PgStore) SetThreadMute(ctx context.Context, threadID, userID string, muted bool, untilMS int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE thread_members SET muted=$1, muted_until_ms=$2
		 WHERE thread_id=$3 AND user_id=$4`, muted, untilMS, threadID, userID)
	if err != nil {
		return errs.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotParticipant.WithDetail(userID)
	}
	return nil
}

func (s *PgStore) GetThreadMute(ctx context.Context, threadID, userID string) (bool, int64, error) {
	var muted bool
	var until int64
	err := s.pool.QueryRow(ctx,
		`SELECT muted, muted_until_ms FROM thread_members
		 WHERE thread_id=$1 AND user_id=$2`, threadID, userID).
		Scan(&muted, &until)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, errs.ErrNotParticipant.WithDetail(userID)
	}
	if err != nil {
		return false, 0, errs.Wrap(err)
	}
	return muted, until, nil
}
