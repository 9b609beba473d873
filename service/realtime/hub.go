package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"threadline/logger"
	"threadline/service/bus"
)

// Hub tracks which connections care about which threads and routes
// decoded events to them. One hub per gateway node; the bus carries
// events between nodes.
type Hub struct {
	fanout *Fanout

	mu      sync.RWMutex
	clients map[string]*Client            // conn id -> client
	byUser  map[string]map[string]*Client // user id -> conn id -> client
	threads map[string]map[string]*Client // thread id -> conn id -> client
}

func NewHub(fanout *Fanout) *Hub {
	return &Hub{
		fanout:  fanout,
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		threads: make(map[string]map[string]*Client),
	}
}

// Attach registers a freshly authenticated connection.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ConnID] = c
	conns := h.byUser[c.UserID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
	}
	conns[c.ConnID] = c
}

// Detach removes the connection from every index. Called from the read
// loop's exit path; the caller closes the send queue afterwards.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ConnID)
	if conns := h.byUser[c.UserID]; conns != nil {
		delete(conns, c.ConnID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	for tid, subs := range h.threads {
		delete(subs, c.ConnID)
		if len(subs) == 0 {
			delete(h.threads, tid)
		}
	}
}

// Subscribe adds the connection to a thread's delivery set.
func (h *Hub) Subscribe(c *Client, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.threads[threadID]
	if subs == nil {
		subs = make(map[string]*Client)
		h.threads[threadID] = subs
	}
	subs[c.ConnID] = c
}

func (h *Hub) Unsubscribe(c *Client, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.threads[threadID]; subs != nil {
		delete(subs, c.ConnID)
		if len(subs) == 0 {
			delete(h.threads, threadID)
		}
	}
}

// UserOnline reports whether the user has at least one live connection
// on this node.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Deliver routes one decoded event. Thread events go to the thread's
// subscribers minus the originator's own connections; events with a
// ToUserID go to that user's connections only.
func (h *Hub) Deliver(e *Event) {
	payload, err := e.Encode()
	if err != nil {
		logger.Warn("encode event failed", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	var targets []*Client
	switch {
	case e.ToUserID != "":
		for _, c := range h.byUser[e.ToUserID] {
			targets = append(targets, c)
		}
	case e.ThreadID != "":
		for _, c := range h.threads[e.ThreadID] {
			if c.UserID == e.FromUserID {
				continue
			}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	h.fanout.Broadcast(targets, payload)
}

// AttachBus subscribes the hub to the shared event bus. Payloads are
// decoded exactly once here; malformed ones are logged and dropped so
// a bad producer cannot wedge the consumer.
func (h *Hub) AttachBus(b bus.Bus) (func(), error) {
	return b.Subscribe(func(_ context.Context, threadID string, payload []byte) error {
		e, err := DecodeEvent(payload)
		if err != nil {
			logger.Warn("drop undecodable event",
				zap.String("thread", threadID), zap.Error(err))
			return nil
		}
		h.Deliver(e)
		return nil
	})
}
