// Package realtime is the websocket gateway: it turns store changes and
// receipt transitions into thread-scoped events, fans them out to
// connected clients, and accepts the small set of client frames
// (subscribe, typing, delivered acks, presence pings).
package realtime

import (
	"encoding/json"

	"threadline/module/message"
	"threadline/tools/errs"
)

// EventType discriminates the wire union. Every event decodes exactly
// once at the bus boundary; past that point code switches on Type and
// reads the one populated branch.
type EventType string

const (
	EventInsert    EventType = "message.insert"
	EventUpdate    EventType = "message.update"
	EventDelete    EventType = "message.delete"
	EventDelivered EventType = "receipt.delivered"
	EventRead      EventType = "receipt.read"
	EventTyping    EventType = "typing"
	EventPresence  EventType = "presence"
)

// Event is the tagged union carried on the bus and pushed to clients.
// ThreadID scopes delivery; FromUserID lets the hub skip the echo back
// to the originating user, ToUserID restricts delivery to one user.
type Event struct {
	Type       EventType `json:"type"`
	ThreadID   string    `json:"thread_id,omitempty"`
	FromUserID string    `json:"from_user_id,omitempty"`
	ToUserID   string    `json:"to_user_id,omitempty"`

	Message *message.Message `json:"message,omitempty"`
	Receipt *ReceiptEvent    `json:"receipt,omitempty"`
	Typing  *TypingEvent     `json:"typing,omitempty"`
	Online  *PresenceEvent   `json:"presence,omitempty"`
}

// ReceiptEvent reports the messages that changed state on one call,
// not the whole history behind the watermark.
type ReceiptEvent struct {
	UserID     string  `json:"user_id"`
	MessageIDs []int64 `json:"message_ids"`
	AtMS       int64   `json:"at_ms"`
}

type TypingEvent struct {
	UserID string `json:"user_id"`
	AtMS   int64  `json:"at_ms"`
}

type PresenceEvent struct {
	UserID     string `json:"user_id"`
	Online     bool   `json:"online"`
	LastSeenMS int64  `json:"last_seen_ms"`
}

func NewInsertEvent(m *message.Message) *Event {
	return &Event{Type: EventInsert, ThreadID: m.ThreadID, FromUserID: m.SenderID, Message: m}
}

func NewUpdateEvent(m *message.Message) *Event {
	return &Event{Type: EventUpdate, ThreadID: m.ThreadID, FromUserID: m.SenderID, Message: m}
}

func NewDeleteEvent(m *message.Message) *Event {
	return &Event{Type: EventDelete, ThreadID: m.ThreadID, FromUserID: m.SenderID, Message: m}
}

func NewReadEvent(threadID, readerID string, ids []int64, atMS int64) *Event {
	return &Event{
		Type: EventRead, ThreadID: threadID, FromUserID: readerID,
		Receipt: &ReceiptEvent{UserID: readerID, MessageIDs: ids, AtMS: atMS},
	}
}

func NewDeliveredEvent(threadID, recipientID string, ids []int64, atMS int64) *Event {
	return &Event{
		Type: EventDelivered, ThreadID: threadID, FromUserID: recipientID,
		Receipt: &ReceiptEvent{UserID: recipientID, MessageIDs: ids, AtMS: atMS},
	}
}

func NewTypingEvent(threadID, userID string, atMS int64) *Event {
	return &Event{
		Type: EventTyping, ThreadID: threadID, FromUserID: userID,
		Typing: &TypingEvent{UserID: userID, AtMS: atMS},
	}
}

func NewPresenceEvent(userID string, online bool, lastSeenMS int64, toUserID string) *Event {
	return &Event{
		Type: EventPresence, ToUserID: toUserID,
		Online: &PresenceEvent{UserID: userID, Online: online, LastSeenMS: lastSeenMS},
	}
}

// Encode serializes the event for the bus and the wire. Encoding is
// infallible for events built through the constructors; the error is
// kept for callers that build events by hand.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent is the single entry point for raw bus payloads. It
// rejects unknown types and unions whose populated branch does not
// match the tag, so downstream code never re-validates.
func DecodeEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, errs.ErrValidation.WithDetail("bad event payload: " + err.Error())
	}
	switch e.Type {
	case EventInsert, EventUpdate, EventDelete:
		if e.Message == nil || e.ThreadID == "" {
			return nil, errs.ErrValidation.WithDetail("message event without body")
		}
	case EventDelivered, EventRead:
		if e.Receipt == nil || e.ThreadID == "" || len(e.Receipt.MessageIDs) == 0 {
			return nil, errs.ErrValidation.WithDetail("receipt event without ids")
		}
	case EventTyping:
		if e.Typing == nil || e.ThreadID == "" {
			return nil, errs.ErrValidation.WithDetail("typing event without body")
		}
	case EventPresence:
		if e.Online == nil {
			return nil, errs.ErrValidation.WithDetail("presence event without body")
		}
	default:
		return nil, errs.ErrValidation.WithDetail("unknown event type " + string(e.Type))
	}
	return &e, nil
}
