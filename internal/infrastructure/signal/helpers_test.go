package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pixelrelay/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const readTimeout = 3 * time.Second

type testEnv struct {
	server      *Server
	streamerURL string
	playerURL   string
	sfuURL      string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	srv := NewServer(opts, zap.NewNop().Sugar(), nil, nil)
	env := &testEnv{server: srv}
	env.streamerURL = serve(t, srv.StreamerHandler())
	env.playerURL = serve(t, srv.PlayerHandler())
	env.sfuURL = serve(t, srv.SFUHandler())
	return env
}

func serve(t *testing.T, h http.Handler) string {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id string
}

// dial connects and consumes the config and identify greeting.
func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	c := &client{t: t, ws: ws}
	expect[*protocol.Config](t, c)
	expect[*protocol.Identify](t, c)
	return c
}

// dialAs connects and claims id, returning the committed id on the client.
func dialAs(t *testing.T, url, id string) *client {
	t.Helper()
	c := dial(t, url)
	c.send(&protocol.EndpointID{ID: id})
	c.id = expect[*protocol.EndpointIDConfirm](t, c).CommittedID
	return c
}

func (c *client) send(msg protocol.Message) {
	c.t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *client) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

// expect reads until a message of type T arrives, skipping anything else.
func expect[T protocol.Message](t *testing.T, c *client) T {
	t.Helper()
	var zero T
	want := zero.MessageType()

	deadline := time.Now().Add(readTimeout)
	for {
		require.NoError(t, c.ws.SetReadDeadline(deadline))
		_, data, err := c.ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		if typed, ok := msg.(T); ok {
			return typed
		}
	}
}

// expectClose reads until the peer closes and returns the close error.
func expectClose(t *testing.T, c *client) *websocket.CloseError {
	t.Helper()
	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := c.ws.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected a close frame, got %v", err)
		return ce
	}
}
