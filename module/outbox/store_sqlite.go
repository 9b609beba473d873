package outbox

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"threadline/tools/errs"
)

// SqliteStore is the durable device-local queue. One file per device;
// items are keyed by (thread_id, client_msg_id) and survive restarts.
type SqliteStore struct {
	db *sql.DB
}

const outboxDDL = `
CREATE TABLE IF NOT EXISTS outbox (
	thread_id        TEXT NOT NULL,
	client_msg_id    TEXT NOT NULL,
	kind             INTEGER NOT NULL,
	body             TEXT NOT NULL DEFAULT '',
	attachments      TEXT,
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_retry_at_ms INTEGER NOT NULL DEFAULT 0,
	created_at_ms    INTEGER NOT NULL,
	PRIMARY KEY (thread_id, client_msg_id)
);
CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox (next_retry_at_ms);
`

func OpenSqliteStore(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.WrapMsg(err, "open outbox db", "path", path)
	}
	if _, err := db.Exec(outboxDDL); err != nil {
		_ = db.Close()
		return nil, errs.WrapMsg(err, "outbox schema")
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) Put(ctx context.Context, it *Item) error {
	var att []byte
	if len(it.Attachments) > 0 {
		b, err := json.Marshal(it.Attachments)
		if err != nil {
			return errs.Wrap(err)
		}
		att = b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox
		   (thread_id, client_msg_id, kind, body, attachments, attempts, next_retry_at_ms, created_at_ms)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT (thread_id, client_msg_id) DO UPDATE SET
		   attempts = excluded.attempts,
		   next_retry_at_ms = excluded.next_retry_at_ms`,
		it.ThreadID, it.ClientMsgID, it.Kind, it.Body, att,
		it.Attempts, it.NextRetryAtMS, it.CreatedAtMS)
	return errs.WrapMsg(err, "outbox put", "client_msg_id", it.ClientMsgID)
}

func (s *SqliteStore) Delete(ctx context.Context, threadID, clientMsgID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE thread_id = ? AND client_msg_id = ?`,
		threadID, clientMsgID)
	return errs.Wrap(err)
}

func (s *SqliteStore) Due(ctx context.Context, nowMS int64) ([]*Item, error) {
	return s.query(ctx,
		`SELECT thread_id, client_msg_id, kind, body, attachments, attempts, next_retry_at_ms, created_at_ms
		 FROM outbox WHERE next_retry_at_ms <= ? ORDER BY created_at_ms ASC`, nowMS)
}

func (s *SqliteStore) All(ctx context.Context) ([]*Item, error) {
	return s.query(ctx,
		`SELECT thread_id, client_msg_id, kind, body, attachments, attempts, next_retry_at_ms, created_at_ms
		 FROM outbox ORDER BY created_at_ms ASC`)
}

func (s *SqliteStore) query(ctx context.Context, q string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer rows.Close()
	var out []*Item
	for rows.Next() {
		it := &Item{}
		var att []byte
		if err := rows.Scan(&it.ThreadID, &it.ClientMsgID, &it.Kind, &it.Body,
			&att, &it.Attempts, &it.NextRetryAtMS, &it.CreatedAtMS); err != nil {
			return nil, errs.Wrap(err)
		}
		if len(att) > 0 {
			if err := json.Unmarshal(att, &it.Attachments); err != nil {
				return nil, errs.WrapMsg(err, "outbox attachments", "client_msg_id", it.ClientMsgID)
			}
		}
		out = append(out, it)
	}
	return out, errs.Wrap(rows.Err())
}

var _ Store = (*SqliteStore)(nil)
