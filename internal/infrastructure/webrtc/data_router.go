package webrtc

import (
	"sync"

	"pixelrelay/internal/core/ports"
	"pixelrelay/pkg/protocol"

	"go.uber.org/zap"
)

// DataChannel is the part of a data channel the router needs.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Close() error
}

// DataRouter fans one streamer-bound channel out to a channel per player.
// Streamer frames are multiplex frames naming their target player; player
// messages are wrapped in a multiplex header before going upstream.
//
// The streamer only learns a player left when that player's channel closes.
// There is no heartbeat.
type DataRouter struct {
	logger  *zap.SugaredLogger
	metrics ports.SFUMetrics

	mu       sync.RWMutex
	streamer DataChannel
	players  map[string]DataChannel
}

func NewDataRouter(logger *zap.SugaredLogger, metrics ports.SFUMetrics) *DataRouter {
	if metrics == nil {
		metrics = nopSFUMetrics{}
	}
	return &DataRouter{
		logger:  logger,
		metrics: metrics,
		players: make(map[string]DataChannel),
	}
}

// HandleStreamer makes ch the shared upstream channel.
func (r *DataRouter) HandleStreamer(ch DataChannel) {
	r.mu.Lock()
	r.streamer = ch
	r.mu.Unlock()

	ch.OnMessage(func(data []byte) {
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			r.logger.Debugw("dropping undecodable frame from streamer", "bytes", len(data), "error", err)
			r.metrics.DataFrameDropped("malformed")
			return
		}
		if frame.Kind != protocol.KindMultiplexed {
			r.logger.Debugw("dropping non-data frame from streamer", "kind", frame.Kind, "player_id", frame.PlayerID)
			r.metrics.DataFrameDropped("unexpected_kind")
			return
		}

		r.mu.RLock()
		player := r.players[frame.PlayerID]
		r.mu.RUnlock()
		if player == nil {
			r.logger.Debugw("dropping frame for unknown player", "player_id", frame.PlayerID)
			r.metrics.DataFrameDropped("unknown_player")
			return
		}

		if err := player.Send(frame.Payload); err != nil {
			r.logger.Debugw("failed to forward frame to player", "player_id", frame.PlayerID, "error", err)
			r.metrics.DataFrameDropped("send_failed")
			return
		}
		r.metrics.DataFrameRelayed("downstream", len(frame.Payload))
	})

	ch.OnClose(func() {
		r.mu.Lock()
		if r.streamer == ch {
			r.streamer = nil
		}
		r.mu.Unlock()
		r.logger.Infow("streamer data channel closed", "label", ch.Label())
	})
}

// HandlePlayer attaches ch for playerID and announces it to the streamer.
func (r *DataRouter) HandlePlayer(ch DataChannel, playerID string) {
	r.mu.Lock()
	previous := r.players[playerID]
	r.players[playerID] = ch
	r.mu.Unlock()
	if previous != nil && previous != ch {
		_ = previous.Close()
	}

	r.sendStatus(playerID, true)

	ch.OnMessage(func(data []byte) {
		frame, err := protocol.EncodeMultiplexed(playerID, data)
		if err != nil {
			r.logger.Debugw("failed to wrap player message", "player_id", playerID, "error", err)
			r.metrics.DataFrameDropped("encode_failed")
			return
		}
		if r.sendUpstream(frame) {
			r.metrics.DataFrameRelayed("upstream", len(data))
		}
	})

	ch.OnClose(func() {
		r.mu.Lock()
		if r.players[playerID] != ch {
			r.mu.Unlock()
			return
		}
		delete(r.players, playerID)
		r.mu.Unlock()

		r.sendStatus(playerID, false)
		r.logger.Infow("player data channel closed", "player_id", playerID)
	})
}

// Players reports how many player channels are attached.
func (r *DataRouter) Players() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *DataRouter) sendStatus(playerID string, attached bool) {
	frame, err := protocol.EncodeRelayStatus(playerID, attached)
	if err != nil {
		r.logger.Debugw("failed to encode relay status", "player_id", playerID, "error", err)
		return
	}
	r.sendUpstream(frame)
}

func (r *DataRouter) sendUpstream(frame []byte) bool {
	r.mu.RLock()
	streamer := r.streamer
	r.mu.RUnlock()

	if streamer == nil {
		r.logger.Debugw("dropping frame, no streamer data channel", "bytes", len(frame))
		r.metrics.DataFrameDropped("no_streamer")
		return false
	}
	if err := streamer.Send(frame); err != nil {
		r.logger.Debugw("failed to send frame to streamer", "error", err)
		r.metrics.DataFrameDropped("send_failed")
		return false
	}
	return true
}

// Bridge copies messages between a and b in both directions and closes each
// side when the other closes.
func Bridge(a, b DataChannel, metrics ports.SFUMetrics) {
	if metrics == nil {
		metrics = nopSFUMetrics{}
	}
	pipe := func(from, to DataChannel, direction string) {
		from.OnMessage(func(data []byte) {
			if err := to.Send(data); err != nil {
				metrics.DataFrameDropped("send_failed")
				return
			}
			metrics.DataFrameRelayed(direction, len(data))
		})
		from.OnClose(func() {
			_ = to.Close()
		})
	}
	pipe(a, b, "downstream")
	pipe(b, a, "upstream")
}
