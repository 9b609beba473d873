package message

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"threadline/tools/errs"
)

// Cursor is the opaque pagination token: the (created_at, server_id) tuple
// of the last-seen message. Time orders first, server id breaks ties, so
// the order stays deterministic even when timestamps collide.
type Cursor struct {
	CreatedAtMS int64
	ServerID    int64
}

// Direction selects which side of the cursor a page comes from.
type Direction int

const (
	Older Direction = iota // strictly before the cursor
	Newer                  // strictly after the cursor
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "older":
		return Older, nil
	case "newer":
		return Newer, nil
	}
	return Older, errs.ErrValidation.WithDetail("direction must be older or newer")
}

// Compare orders two cursors: -1 when a precedes b, 0 on equal, 1 after.
func (c Cursor) Compare(o Cursor) int {
	if c.CreatedAtMS != o.CreatedAtMS {
		if c.CreatedAtMS < o.CreatedAtMS {
			return -1
		}
		return 1
	}
	if c.ServerID != o.ServerID {
		if c.ServerID < o.ServerID {
			return -1
		}
		return 1
	}
	return 0
}

// CursorOf extracts a message's position in the total order.
func CursorOf(m *Message) Cursor {
	return Cursor{CreatedAtMS: m.CreatedAtMS, ServerID: m.ServerID}
}

// CompareMessages orders two messages by (created_at, server_id).
func CompareMessages(a, b *Message) int {
	return CursorOf(a).Compare(CursorOf(b))
}

const cursorVersion = "v1"

// Encode renders the cursor as an opaque token.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%s:%d:%d", cursorVersion, c.CreatedAtMS, c.ServerID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token. Malformed tokens are rejected with
// ErrBadCursor rather than silently defaulting, so a corrupted cursor can
// never serve the wrong window.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errs.ErrBadCursor.WithDetail("not base64")
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != cursorVersion {
		return Cursor{}, errs.ErrBadCursor.WithDetail("bad shape")
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, errs.ErrBadCursor.WithDetail("bad timestamp")
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Cursor{}, errs.ErrBadCursor.WithDetail("bad server id")
	}
	if ms < 0 || id < 0 {
		return Cursor{}, errs.ErrBadCursor.WithDetail("negative field")
	}
	return Cursor{CreatedAtMS: ms, ServerID: id}, nil
}
