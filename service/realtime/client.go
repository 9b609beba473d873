package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"threadline/logger"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 75 * time.Second
	pingPeriod    = 50 * time.Second
	maxFrameBytes = 16 * 1024
	sendQueueSize = 256
)

// Client is one websocket session. A user may hold several at once,
// one per device; each keeps its own send queue drained by a single
// writer goroutine.
type Client struct {
	ConnID string
	UserID string
	WS     *websocket.Conn
	Send   chan []byte

	quit     chan struct{} // closed by CloseSend, never the Send channel itself
	done     chan struct{} // closed when WritePump returns
	quitOnce sync.Once

	watchMu sync.Mutex
	watches map[string]func() // watched user id -> cancel
}

func NewClient(connID, userID string, ws *websocket.Conn) *Client {
	return &Client{
		ConnID:  connID,
		UserID:  userID,
		WS:      ws,
		Send:    make(chan []byte, sendQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		watches: make(map[string]func()),
	}
}

// AddWatch records a presence watch, replacing any prior watch on the
// same user. Returns false if one already exists.
func (c *Client) AddWatch(userID string, cancel func()) bool {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if _, ok := c.watches[userID]; ok {
		return false
	}
	c.watches[userID] = cancel
	return true
}

// DropWatch cancels one watch; with an empty userID it cancels all.
func (c *Client) DropWatch(userID string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if userID == "" {
		for _, cancel := range c.watches {
			cancel()
		}
		c.watches = make(map[string]func())
		return
	}
	if cancel, ok := c.watches[userID]; ok {
		cancel()
		delete(c.watches, userID)
	}
}

// Enqueue hands payload to the writer without blocking. A full queue
// means a slow client; the frame is dropped and the client repairs
// from its cursor on the next page read. After CloseSend the payload
// is dropped too: Send is never closed, so a fan-out worker racing a
// disconnect cannot panic the process.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	case <-c.quit:
		return false
	default:
		return false
	}
}

// CloseSend stops the writer and waits for it to exit. Safe to call
// from any goroutine, any number of times.
func (c *Client) CloseSend() {
	c.quitOnce.Do(func() { close(c.quit) })
	<-c.done
}

// WritePump is the single writer for this connection: it serializes
// queued frames and keepalive pings onto the socket. Runs until
// CloseSend signals quit or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
		close(c.done)
	}()
	for {
		select {
		case <-c.quit:
			_ = c.WS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[ws] write err conn=%s err=%v", c.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
