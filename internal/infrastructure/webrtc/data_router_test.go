package webrtc

import (
	"testing"
	"time"

	"pixelrelay/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) (*DataRouter, *fakeDataChannel) {
	t.Helper()
	router := NewDataRouter(zap.NewNop().Sugar(), nil)
	streamer := newFakeChannel("multiplex")
	router.HandleStreamer(streamer)
	return router, streamer
}

// mustFrame returns a func taking an encoder's results directly.
func mustFrame(t *testing.T) func([]byte, error) []byte {
	return func(b []byte, err error) []byte {
		t.Helper()
		require.NoError(t, err)
		return b
	}
}

func TestDataRouter_PlayerAttachSendsRelayStatus(t *testing.T) {
	router, streamer := newRouter(t)

	router.HandlePlayer(newFakeChannel("datachannel"), "Player3")

	sent := streamer.Sent()
	require.Len(t, sent, 1)
	frame, err := protocol.DecodeFrame(sent[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindRelayStatus, frame.Kind)
	assert.Equal(t, "Player3", frame.PlayerID)
	assert.True(t, frame.Attached)
	assert.Equal(t, 1, router.Players())
}

func TestDataRouter_PlayerMessagesAreWrapped(t *testing.T) {
	router, streamer := newRouter(t)
	player := newFakeChannel("datachannel")
	router.HandlePlayer(player, "P1")

	player.deliver([]byte{1, 2, 3})

	sent := streamer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, mustFrame(t)(protocol.EncodeMultiplexed("P1", []byte{1, 2, 3})), sent[1])
}

func TestDataRouter_StreamerFramesReachNamedPlayer(t *testing.T) {
	router, streamer := newRouter(t)
	p1 := newFakeChannel("p1")
	p2 := newFakeChannel("p2")
	router.HandlePlayer(p1, "P1")
	router.HandlePlayer(p2, "P2")

	streamer.deliver(mustFrame(t)(protocol.EncodeMultiplexed("P2", []byte("hello"))))

	assert.Empty(t, p1.Sent())
	assert.Equal(t, [][]byte{[]byte("hello")}, p2.Sent())
}

func TestDataRouter_DropsBadStreamerFrames(t *testing.T) {
	router, streamer := newRouter(t)
	player := newFakeChannel("p")
	router.HandlePlayer(player, "P1")

	streamer.deliver([]byte{0x01})
	streamer.deliver([]byte{protocol.KindMultiplexed, 0xFF, 0x00})
	streamer.deliver(mustFrame(t)(protocol.EncodeMultiplexed("nobody", []byte("x"))))
	streamer.deliver(mustFrame(t)(protocol.EncodeRelayStatus("P1", true)))

	assert.Empty(t, player.Sent())
}

func TestDataRouter_PlayerCloseDetaches(t *testing.T) {
	router, streamer := newRouter(t)
	player := newFakeChannel("p")
	router.HandlePlayer(player, "P1")

	require.NoError(t, player.Close())

	sent := streamer.Sent()
	require.Len(t, sent, 2)
	frame, err := protocol.DecodeFrame(sent[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindRelayStatus, frame.Kind)
	assert.False(t, frame.Attached)
	assert.Equal(t, 0, router.Players())

	streamer.deliver(mustFrame(t)(protocol.EncodeMultiplexed("P1", []byte("late"))))
	assert.Empty(t, player.Sent())
}

// A player whose channel never reports close stays attached: there is no
// heartbeat, so the streamer is never told it left.
func TestDataRouter_NoDetachWithoutCloseEvent(t *testing.T) {
	router, streamer := newRouter(t)
	router.HandlePlayer(newFakeChannel("p"), "P1")

	time.Sleep(20 * time.Millisecond)

	assert.Len(t, streamer.Sent(), 1)
	assert.Equal(t, 1, router.Players())
}

func TestDataRouter_ReattachReplacesChannel(t *testing.T) {
	router, streamer := newRouter(t)
	first := newFakeChannel("first")
	second := newFakeChannel("second")

	router.HandlePlayer(first, "P1")
	router.HandlePlayer(second, "P1")

	assert.True(t, first.isClosed())
	assert.Equal(t, 1, router.Players())

	streamer.deliver(mustFrame(t)(protocol.EncodeMultiplexed("P1", []byte("x"))))
	assert.Equal(t, [][]byte{[]byte("x")}, second.Sent())
}

func TestDataRouter_NoStreamerDropsPlayerMessages(t *testing.T) {
	router := NewDataRouter(zap.NewNop().Sugar(), nil)
	player := newFakeChannel("p")
	router.HandlePlayer(player, "P1")

	player.deliver([]byte("lost"))
	assert.Equal(t, 1, router.Players())
}

func TestBridge(t *testing.T) {
	up := newFakeChannel("up")
	down := newFakeChannel("down")
	Bridge(up, down, nil)

	up.deliver([]byte("to player"))
	down.deliver([]byte("to streamer"))

	assert.Equal(t, [][]byte{[]byte("to player")}, down.Sent())
	assert.Equal(t, [][]byte{[]byte("to streamer")}, up.Sent())

	require.NoError(t, down.Close())
	assert.True(t, up.isClosed())
}
