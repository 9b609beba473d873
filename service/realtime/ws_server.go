package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"threadline/logger"
	"threadline/middleware/security"
	"threadline/module/message"
	"threadline/module/presence"
	"threadline/tools/ids"
	"threadline/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the inbound client frame. Op selects the action; the other
// fields are read per op.
type frame struct {
	Op         string  `json:"op"` // subscribe | unsubscribe | typing | delivered | ping | watch | unwatch
	ThreadID   string  `json:"thread_id,omitempty"`
	MessageIDs []int64 `json:"message_ids,omitempty"`
	UserID     string  `json:"user_id,omitempty"` // watch target
}

// Server owns the websocket endpoint: auth, the per-connection read
// loop, and the glue into hub, presence and the message engine.
type Server struct {
	hub     *Hub
	msgs    *message.Service
	tracker *presence.Tracker
	pub     *Publisher
	auth    security.Options
	gen     *ids.Generator
}

func NewServer(hub *Hub, msgs *message.Service, tracker *presence.Tracker, pub *Publisher, auth security.Options, gen *ids.Generator) *Server {
	return &Server{hub: hub, msgs: msgs, tracker: tracker, pub: pub, auth: auth, gen: gen}
}

// Register mounts the endpoint. Token comes via query param because
// browser websocket clients cannot set headers.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws", s.HandleWS)
}

func (s *Server) HandleWS(c *gin.Context) {
	token := c.Query("token")
	userID, err := security.Verify(s.auth, token)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	client := NewClient(s.gen.NextString(), userID, ws)
	s.hub.Attach(client)
	s.tracker.Heartbeat(c.Request.Context(), userID)

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	safe.Go(client.WritePump)

	defer func() {
		client.DropWatch("")
		s.hub.Detach(client)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if !s.hub.UserOnline(userID) {
			s.tracker.Offline(ctx, userID)
		}
		client.CloseSend()
	}()

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[ws] peer closed conn=%s", client.ConnID)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Debugf("[ws] read timeout conn=%s", client.ConnID)
			} else {
				logger.Debugf("[ws] read err conn=%s err=%v", client.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Debugf("[ws] bad frame conn=%s err=%v", client.ConnID, err)
			continue
		}
		s.handleFrame(c.Request.Context(), client, &f)
	}
}

func (s *Server) handleFrame(ctx context.Context, client *Client, f *frame) {
	switch f.Op {
	case "ping":
		s.tracker.Heartbeat(ctx, client.UserID)
		client.Enqueue([]byte(`{"op":"pong"}`))

	case "subscribe":
		if f.ThreadID == "" {
			return
		}
		// Membership gate: non-participants get no subscription and no
		// error detail beyond the silent drop.
		t, err := s.msgs.Store().GetThread(ctx, f.ThreadID)
		if err != nil || !t.HasParticipant(client.UserID) {
			logger.Debugf("[ws] subscribe denied user=%s thread=%s", client.UserID, f.ThreadID)
			return
		}
		s.hub.Subscribe(client, f.ThreadID)

	case "unsubscribe":
		if f.ThreadID != "" {
			s.hub.Unsubscribe(client, f.ThreadID)
		}

	case "typing":
		if f.ThreadID == "" {
			return
		}
		if err := s.pub.AnnounceTyping(ctx, f.ThreadID, client.UserID); err != nil {
			logger.Debugf("[ws] typing publish err: %v", err)
		}

	case "delivered":
		if f.ThreadID == "" || len(f.MessageIDs) == 0 {
			return
		}
		if err := s.msgs.MarkDelivered(ctx, f.ThreadID, client.UserID, f.MessageIDs); err != nil {
			logger.Debugf("[ws] delivered err user=%s thread=%s err=%v", client.UserID, f.ThreadID, err)
		}

	case "watch":
		if f.UserID == "" {
			return
		}
		s.watchPresence(client, f.UserID)

	case "unwatch":
		if f.UserID != "" {
			client.DropWatch(f.UserID)
		}

	default:
		logger.Debugf("[ws] unknown op %q conn=%s", f.Op, client.ConnID)
	}
}

// watchPresence streams presence deltas for target into this one
// connection. The first update arrives synchronously from the tracker,
// so the client always sees the current state before any delta.
func (s *Server) watchPresence(client *Client, target string) {
	updates, cancel := s.tracker.Watch(context.Background(), target)
	if !client.AddWatch(target, cancel) {
		cancel()
		return
	}
	safe.Go(func() {
		for u := range updates {
			e := NewPresenceEvent(u.Record.UserID, u.Record.Online, u.Record.LastSeenMS, client.UserID)
			payload, err := e.Encode()
			if err != nil {
				continue
			}
			client.Enqueue(payload)
		}
	})
}
