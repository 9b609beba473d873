package message

// ReceiptState is the per-(message, recipient) delivery state. Transitions
// only move forward: none -> delivered -> read.
type ReceiptState int16

const (
	ReceiptNone ReceiptState = iota
	ReceiptDelivered
	ReceiptRead
)

func (s ReceiptState) String() string {
	switch s {
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "none"
	}
}

// Receipt tracks one recipient's view of one message.
type Receipt struct {
	MessageID     int64        `json:"message_id"`
	RecipientID   string       `json:"recipient_id"`
	State         ReceiptState `json:"state"`
	DeliveredAtMS int64        `json:"delivered_at_ms,omitempty"`
	ReadAtMS      int64        `json:"read_at_ms,omitempty"`
}

// Advance applies a forward transition and reports whether anything
// changed. Regressions are no-ops: a read receipt stays read no matter
// what arrives afterwards. read_at is never earlier than delivered_at.
func (r *Receipt) Advance(to ReceiptState, nowMS int64) bool {
	if to <= r.State {
		return false
	}
	switch to {
	case ReceiptDelivered:
		r.State = ReceiptDelivered
		r.DeliveredAtMS = nowMS
	case ReceiptRead:
		if r.State == ReceiptNone {
			r.DeliveredAtMS = nowMS
		}
		r.State = ReceiptRead
		r.ReadAtMS = nowMS
		if r.ReadAtMS < r.DeliveredAtMS {
			r.ReadAtMS = r.DeliveredAtMS
		}
	default:
		return false
	}
	return true
}
