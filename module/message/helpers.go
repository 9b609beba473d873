package message

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// PairThreadID builds the deterministic thread id for a participant set:
// sorted ids joined by ':'. Two users always map to the same thread, which
// is how "thread created on first message" stays race-free.
func PairThreadID(participants []string) string {
	ps := append([]string(nil), participants...)
	sort.Strings(ps)
	return strings.Join(ps, ":")
}

// NewClientMsgID mints the client-generated id. Produced once per send
// intent and reused verbatim on every retry.
func NewClientMsgID() string {
	return uuid.NewString()
}
