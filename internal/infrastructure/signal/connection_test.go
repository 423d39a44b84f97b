package signal

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"pixelrelay/internal/core/domain"
	"pixelrelay/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// serveConnection runs fn against a server-side Connection for every client.
func serveConnection(t *testing.T, opts ConnectionOptions, fn func(*Connection)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection(ws, opts, zap.NewNop().Sugar())
		fn(conn)
		conn.Run()
	}))
}

func rawDial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws}
}

func TestConnection_CloseFlushesQueuedMessages(t *testing.T) {
	url := serveConnection(t, ConnectionOptions{}, func(c *Connection) {
		for i := int64(1); i <= 3; i++ {
			assert.NoError(t, c.Send(&protocol.Pong{Time: i}))
		}
		c.Close(websocket.CloseTryAgainLater, "Producer is already connected")
	})

	cl := rawDial(t, url)
	for i := int64(1); i <= 3; i++ {
		assert.Equal(t, i, expect[*protocol.Pong](t, cl).Time)
	}
	ce := expectClose(t, cl)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	assert.Equal(t, "Producer is already connected", ce.Text)
}

func TestConnection_CloseIsIdempotentAndOnCloseFiresOnce(t *testing.T) {
	var fired atomic.Int32
	closed := make(chan *Connection, 1)

	url := serveConnection(t, ConnectionOptions{}, func(c *Connection) {
		c.OnClose(func(code int, reason string) {
			fired.Add(1)
			assert.Equal(t, websocket.CloseNormalClosure, code)
			assert.Equal(t, "first", reason)
		})
		c.Close(websocket.CloseNormalClosure, "first")
		c.Close(websocket.CloseGoingAway, "second")
		closed <- c
	})

	cl := rawDial(t, url)
	assert.Equal(t, websocket.CloseNormalClosure, expectClose(t, cl).Code)

	c := <-closed
	select {
	case <-c.Done():
	case <-time.After(readTimeout):
		t.Fatal("connection did not finish")
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send(&protocol.Ping{}), domain.ErrConnectionClosed)
}

func TestConnection_PeerCloseFiresOnClose(t *testing.T) {
	result := make(chan int, 1)
	url := serveConnection(t, ConnectionOptions{}, func(c *Connection) {
		c.OnClose(func(code int, _ string) { result <- code })
	})

	cl := rawDial(t, url)
	require.NoError(t, cl.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	select {
	case code := <-result:
		assert.Equal(t, websocket.CloseGoingAway, code)
	case <-time.After(readTimeout):
		t.Fatal("OnClose not called")
	}
}

func TestConnection_DispatchesInOrder(t *testing.T) {
	got := make(chan int64, 3)
	url := serveConnection(t, ConnectionOptions{}, func(c *Connection) {
		On(c, func(_ context.Context, msg *protocol.Ping) {
			got <- msg.Time
		})
	})

	cl := rawDial(t, url)
	for i := int64(1); i <= 3; i++ {
		cl.send(&protocol.Ping{Time: i})
	}
	for i := int64(1); i <= 3; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(readTimeout):
			t.Fatal("handler not called")
		}
	}
}

func TestConnection_RateLimitDropsExcess(t *testing.T) {
	var handled atomic.Int32
	url := serveConnection(t, ConnectionOptions{MessagesPerSecond: 0.001, Burst: 1}, func(c *Connection) {
		On(c, func(context.Context, *protocol.Ping) {
			handled.Add(1)
		})
	})

	cl := rawDial(t, url)
	cl.send(&protocol.Ping{Time: 1})
	cl.send(&protocol.Ping{Time: 2})

	require.Eventually(t, func() bool { return handled.Load() == 1 }, readTimeout, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())
}
