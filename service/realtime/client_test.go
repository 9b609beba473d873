package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair dials a loopback websocket and hands back the server side plus
// the dialing peer.
func wsPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no server-side connection")
	}
	return server, peer
}

func TestClient_EnqueueAfterCloseSend(t *testing.T) {
	server, peer := wsPair(t)

	c := NewClient("c1", "alice", server)
	go c.WritePump()

	require.True(t, c.Enqueue([]byte(`{"type":"typing"}`)))
	_, frame, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing"}`, string(frame))

	c.CloseSend()

	// A fan-out worker racing the disconnect must get a clean refusal,
	// never a panic on a closed channel.
	assert.NotPanics(t, func() {
		assert.False(t, c.Enqueue([]byte("late")))
	})
}

func TestClient_CloseSendIdempotent(t *testing.T) {
	server, _ := wsPair(t)

	c := NewClient("c2", "bob", server)
	go c.WritePump()

	c.CloseSend()
	assert.NotPanics(t, func() { c.CloseSend() })
}

func TestClient_FullQueueDrops(t *testing.T) {
	server, _ := wsPair(t)

	// Writer never started, so the queue fills and overflow is dropped.
	c := NewClient("c3", "carol", server)
	for i := 0; i < sendQueueSize; i++ {
		require.True(t, c.Enqueue([]byte("x")))
	}
	assert.False(t, c.Enqueue([]byte("overflow")))
}
