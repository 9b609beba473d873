package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReceipt_AdvanceForwardOnly(t *testing.T) {
	r := &Receipt{MessageID: 1, RecipientID: "bob"}

	assert.True(t, r.Advance(ReceiptDelivered, 100))
	assert.Equal(t, ReceiptDelivered, r.State)
	assert.EqualValues(t, 100, r.DeliveredAtMS)

	assert.True(t, r.Advance(ReceiptRead, 200))
	assert.Equal(t, ReceiptRead, r.State)
	assert.EqualValues(t, 200, r.ReadAtMS)

	// Late delivered ack after read changes nothing.
	assert.False(t, r.Advance(ReceiptDelivered, 300))
	assert.Equal(t, ReceiptRead, r.State)
	assert.EqualValues(t, 100, r.DeliveredAtMS)
	assert.EqualValues(t, 200, r.ReadAtMS)

	// Repeat read is a no-op too.
	assert.False(t, r.Advance(ReceiptRead, 400))
	assert.EqualValues(t, 200, r.ReadAtMS)
}

func TestReceipt_ReadWithoutDelivered(t *testing.T) {
	r := &Receipt{MessageID: 2, RecipientID: "bob"}

	assert.True(t, r.Advance(ReceiptRead, 500))
	assert.Equal(t, ReceiptRead, r.State)
	// Read implies delivered with the same stamp.
	assert.EqualValues(t, 500, r.DeliveredAtMS)
	assert.EqualValues(t, 500, r.ReadAtMS)
}

func TestReceipt_ReadNeverBeforeDelivered(t *testing.T) {
	r := &Receipt{MessageID: 3, RecipientID: "bob"}
	r.Advance(ReceiptDelivered, 1000)

	// A skewed clock cannot produce read_at < delivered_at.
	r.Advance(ReceiptRead, 900)
	assert.GreaterOrEqual(t, r.ReadAtMS, r.DeliveredAtMS)
}

func TestReceiptState_String(t *testing.T) {
	assert.Equal(t, "none", ReceiptNone.String())
	assert.Equal(t, "delivered", ReceiptDelivered.String())
	assert.Equal(t, "read", ReceiptRead.String())
}
