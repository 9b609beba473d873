// Package bus is the change-notification channel between the message
// store and the realtime gateways. It carries opaque payloads per thread
// subject; durability never depends on it. Clients repair gaps from the
// store using their last-known cursor.
package bus

import "context"

// Handler consumes one published payload.
type Handler func(ctx context.Context, threadID string, payload []byte) error

// Bus publishes thread-scoped events and feeds every event to each
// subscribed gateway node. msgID deduplicates redelivery where the
// transport supports it.
type Bus interface {
	Publish(ctx context.Context, threadID string, payload []byte, msgID string) error
	// Subscribe registers h for all thread events reaching this node and
	// returns a cancel func that detaches just this subscription.
	Subscribe(h Handler) (cancel func(), err error)
	Close() error
}
