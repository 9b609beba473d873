package message

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"threadline/logger"
	"threadline/tools/errs"
	"threadline/tools/ids"
)

// EventPublisher receives persisted-message events for fan-out. Implemented
// by service/realtime; a nil-safe no-op keeps the store usable in tests.
type EventPublisher interface {
	PublishInsert(ctx context.Context, m *Message) error
	PublishUpdate(ctx context.Context, m *Message) error
	PublishDelete(ctx context.Context, m *Message) error
}

type nopPublisher struct{}

func (nopPublisher) PublishInsert(context.Context, *Message) error { return nil }
func (nopPublisher) PublishUpdate(context.Context, *Message) error { return nil }
func (nopPublisher) PublishDelete(context.Context, *Message) error { return nil }

// ReceiptAnnouncer pushes receipt transitions back to connected senders.
// The ids are the messages that changed state on this call, not the full
// history behind the watermark.
type ReceiptAnnouncer interface {
	AnnounceRead(ctx context.Context, threadID, readerID string, msgIDs []int64) error
	AnnounceDelivered(ctx context.Context, threadID, recipientID string, msgIDs []int64) error
}

const (
	maxPageLimit     = 100
	defaultPageLimit = 50
)

// Service is the server-side message engine: idempotent send with
// participant/block preconditions, ordered paging, read watermarks.
type Service struct {
	store Store
	gen   *ids.Generator
	pub   EventPublisher
	ann   ReceiptAnnouncer
	now   func() time.Time
}

func NewService(store Store, gen *ids.Generator, pub EventPublisher) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Service{store: store, gen: gen, pub: pub, now: time.Now}
}

// WithClock swaps the time source; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithAnnouncer enables receipt fan-out. Without one, receipts are
// persisted but senders learn about them on their next page read.
func (s *Service) WithAnnouncer(ann ReceiptAnnouncer) *Service {
	s.ann = ann
	return s
}

func (s *Service) Store() Store { return s.store }

// SendInput is everything the client supplies for one send. ClientMsgID is
// minted once on the originating device and reused verbatim on retries.
type SendInput struct {
	ThreadID    string
	ClientMsgID string
	SenderID    string
	Kind        Kind
	Body        string
	Attachments []Attachment
}

func (in *SendInput) validate() error {
	if in.ThreadID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return errs.ErrValidation.WithDetail("thread_id, client_msg_id and sender required")
	}
	if in.Body == "" && len(in.Attachments) == 0 {
		return errs.ErrValidation.WithDetail("empty message")
	}
	if len(in.Body) > MaxBodyBytes {
		return errs.ErrValidation.WithDetail("body too large")
	}
	return nil
}

// Send persists the message idempotently and fans out the insert event,
// but only on first insert: a retried send that hits the existing row
// returns it unchanged and triggers no second fan-out.
func (s *Service) Send(ctx context.Context, in SendInput) (*Message, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.store.GetThread(ctx, in.ThreadID)
	if err != nil {
		return nil, err
	}
	if !t.HasParticipant(in.SenderID) {
		return nil, errs.ErrNotParticipant.WithDetail(in.SenderID)
	}
	// Symmetric block check: either direction fails the send, with a
	// distinguishable error per direction.
	for _, other := range t.Others(in.SenderID) {
		senderBlocked, blockedBySender, err := s.store.Blocked(ctx, other, in.SenderID)
		if err != nil {
			return nil, err
		}
		if senderBlocked {
			return nil, errs.ErrBlockedByRecipient.WithDetail(other)
		}
		if blockedBySender {
			return nil, errs.ErrSenderBlockedRecipient.WithDetail(other)
		}
	}

	kind := in.Kind
	if kind == 0 {
		kind = KindText
	}
	m := &Message{
		ServerID:    s.gen.Next(),
		ThreadID:    in.ThreadID,
		SenderID:    in.SenderID,
		ClientMsgID: in.ClientMsgID,
		Kind:        kind,
		Body:        in.Body,
		Attachments: in.Attachments,
		CreatedAtMS: s.now().UnixMilli(),
	}
	stored, created, err := s.store.InsertMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.pub.PublishInsert(ctx, stored); err != nil {
			// Fan-out gives no delivery guarantee anyway; durability is the
			// store's job and clients repair gaps from their cursor.
			logger.Warn("publish insert failed",
				zap.String("thread", stored.ThreadID), zap.Error(err))
		}
	}
	return stored, nil
}

// ReadPage returns one page in the requested direction. cursorToken == ""
// with direction older means the most recent page.
func (s *Service) ReadPage(ctx context.Context, userID, threadID, cursorToken string, dir Direction, limit int) ([]*Message, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !t.HasParticipant(userID) {
		return nil, errs.ErrNotParticipant.WithDetail(userID)
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	var cur *Cursor
	if cursorToken != "" {
		c, err := DecodeCursor(cursorToken)
		if err != nil {
			return nil, err
		}
		cur = &c
	}
	return s.store.PageMessages(ctx, threadID, cur, dir, limit)
}

// MarkRead advances the caller's read watermark up to upTo and returns the
// resulting last_read_message_id. Calling again with the same or a smaller
// id is a no-op.
func (s *Service) MarkRead(ctx context.Context, threadID, recipientID string, upTo int64) (int64, error) {
	if upTo <= 0 {
		return 0, errs.ErrValidation.WithDetail("up_to_message_id required")
	}
	last, transitioned, err := s.store.MarkRead(ctx, threadID, recipientID, upTo, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if s.ann != nil && len(transitioned) > 0 {
		if err := s.ann.AnnounceRead(ctx, threadID, recipientID, transitioned); err != nil {
			logger.Warn("announce read failed",
				zap.String("thread", threadID), zap.Error(err))
		}
	}
	return last, nil
}

// MarkDelivered records delivery receipts; failures here are reported but
// never interrupt message flow upstream. The caller must be a participant,
// and only ids that live in this thread and were sent by someone else get
// a receipt; the rest are dropped.
func (s *Service) MarkDelivered(ctx context.Context, threadID, recipientID string, msgIDs []int64) error {
	if len(msgIDs) == 0 {
		return nil
	}
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !t.HasParticipant(recipientID) {
		return errs.ErrNotParticipant.WithDetail(recipientID)
	}
	var verified []int64
	for _, id := range msgIDs {
		m, err := s.store.GetMessage(ctx, threadID, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return err
		}
		if m.SenderID == recipientID {
			continue
		}
		verified = append(verified, id)
	}
	if len(verified) == 0 {
		return nil
	}
	if err := s.store.MarkDelivered(ctx, threadID, recipientID, verified, s.now().UnixMilli()); err != nil {
		return err
	}
	if s.ann != nil {
		if err := s.ann.AnnounceDelivered(ctx, threadID, recipientID, verified); err != nil {
			logger.Warn("announce delivered failed",
				zap.String("thread", threadID), zap.Error(err))
		}
	}
	return nil
}

// ListThreads pages the caller's threads by last activity, newest first.
// The cursor is the (activity_ms, last_server_id) of the last row of the
// previous page; an empty token starts from the top.
func (s *Service) ListThreads(ctx context.Context, userID, cursorToken string, limit int) ([]*ThreadSummary, string, error) {
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	all, err := s.store.ListThreads(ctx, userID, 0)
	if err != nil {
		return nil, "", err
	}
	if cursorToken != "" {
		cur, err := DecodeCursor(cursorToken)
		if err != nil {
			return nil, "", err
		}
		trimmed := all[:0]
		for _, sum := range all {
			// Tuple compare: two threads active on the same millisecond
			// still split cleanly across pages on the server id.
			if activityCursor(sum).Compare(cur) < 0 {
				trimmed = append(trimmed, sum)
			}
		}
		all = trimmed
	}
	next := ""
	if len(all) > limit {
		all = all[:limit]
		next = activityCursor(all[len(all)-1]).Encode()
	}
	return all, next, nil
}

// activityCursor is the thread-list pagination key: last activity time
// with the last message's server id as the tie-break.
func activityCursor(sum *ThreadSummary) Cursor {
	c := Cursor{CreatedAtMS: activityMS(sum)}
	if sum.LastMessage != nil {
		c.ServerID = sum.LastMessage.ServerID
	}
	return c
}

// Edit soft-edits a message. Only the sender may edit.
func (s *Service) Edit(ctx context.Context, userID, threadID string, serverID int64, body string) (*Message, error) {
	if body == "" || len(body) > MaxBodyBytes {
		return nil, errs.ErrValidation.WithDetail("bad body")
	}
	m, err := s.store.GetMessage(ctx, threadID, serverID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errs.ErrNotParticipant.WithDetail("only sender can edit")
	}
	updated, err := s.store.EditMessage(ctx, threadID, serverID, body, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if err := s.pub.PublishUpdate(ctx, updated); err != nil {
		logger.Warn("publish update failed", zap.Error(err))
	}
	return updated, nil
}

// Delete soft-deletes a message. Only the sender may delete.
func (s *Service) Delete(ctx context.Context, userID, threadID string, serverID int64) (*Message, error) {
	m, err := s.store.GetMessage(ctx, threadID, serverID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errs.ErrNotParticipant.WithDetail("only sender can delete")
	}
	updated, err := s.store.DeleteMessage(ctx, threadID, serverID, s.now().UnixMilli())
	if err != nil {
		return nil, err
	}
	if err := s.pub.PublishDelete(ctx, updated); err != nil {
		logger.Warn("publish delete failed", zap.Error(err))
	}
	return updated, nil
}

// CreateThread registers a new conversation. First-message thread creation
// for a pair goes through here with a deterministic pair id.
func (s *Service) CreateThread(ctx context.Context, t *Thread) error {
	if len(t.Participants) < 2 {
		return errs.ErrValidation.WithDetail("thread needs at least two participants")
	}
	if t.CreatedAtMS == 0 {
		t.CreatedAtMS = s.now().UnixMilli()
	}
	return s.store.CreateThread(ctx, t)
}
