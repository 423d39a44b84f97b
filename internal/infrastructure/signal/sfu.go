package signal

import (
	"context"

	"pixelrelay/internal/core/domain"
	"pixelrelay/internal/core/services"
	"pixelrelay/pkg/protocol"

	"github.com/gorilla/websocket"
)

// serveSFU registers one connection as both a Streamer and a Player under a
// single id. The streamer half stays hidden from listStreamers until the SFU
// reports startStreaming.
func (s *Server) serveSFU(conn *Connection) {
	e := &sfuEndpoint{
		streamer: &Streamer{conn: conn, kind: domain.KindSFU, maxSubscribers: s.opts.MaxSubscribers},
		player:   &Player{conn: conn, kind: domain.KindSFU},
	}

	s.handleStreamerRole(e.streamer)
	s.handlePlayerRole(e.player)

	// Offers, answers and candidates carrying a playerId travel down to a
	// player; the rest go up to the streamer the SFU subscribed to.
	On(conn, func(ctx context.Context, msg *protocol.Offer) {
		if msg.PlayerID != "" {
			playerID := msg.PlayerID
			msg.PlayerID = ""
			s.toPlayer(e.streamer, playerID, msg)
			return
		}
		msg.PlayerID = e.player.id
		s.toStreamer(e.player, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.Answer) {
		if msg.PlayerID != "" {
			playerID := msg.PlayerID
			msg.PlayerID = ""
			s.toPlayer(e.streamer, playerID, msg)
			return
		}
		msg.PlayerID = e.player.id
		s.toStreamer(e.player, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.ICECandidate) {
		if msg.PlayerID != "" {
			playerID := msg.PlayerID
			msg.PlayerID = ""
			s.toPlayer(e.streamer, playerID, msg)
			return
		}
		msg.PlayerID = e.player.id
		s.toStreamer(e.player, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.StreamerDataChannels) {
		msg.SFUID = e.player.id
		s.toStreamer(e.player, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.StartStreaming) {
		s.setSFUStreaming(e, true)
	})
	On(conn, func(ctx context.Context, msg *protocol.StopStreaming) {
		s.setSFUStreaming(e, false)
	})
	On(conn, func(ctx context.Context, msg *protocol.EndpointID) {
		s.renameSFU(e, msg.ID)
	})
	On(conn, pong(conn))

	s.mu.Lock()
	id := services.SanitizeID(domain.DefaultSFUID, s.sfuIDsLocked(e))
	e.setID(id)
	if err := s.streamers.Insert(e.streamer); err != nil {
		s.mu.Unlock()
		conn.logger.Errorw("failed to register sfu", "sfu_id", id, "error", err)
		conn.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	if err := s.players.Insert(e.player); err != nil {
		s.streamers.Remove(e.streamer)
		s.mu.Unlock()
		conn.logger.Errorw("failed to register sfu", "sfu_id", id, "error", err)
		conn.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	s.mu.Unlock()

	conn.OnClose(func(int, string) {
		s.mu.Lock()
		s.unsubscribeLocked(e.player)
		s.dropSubscribersLocked(e.streamer)
		s.streamers.Remove(e.streamer)
		s.players.Remove(e.player)
		s.mu.Unlock()
		conn.logger.Infow("sfu disconnected", "sfu_id", e.player.id)
	})

	conn.logger.Infow("sfu connected", "sfu_id", id)
	conn.Send(&protocol.Identify{})
}

// sfuIDsLocked lists every id in either registry except e's own entries.
func (s *Server) sfuIDsLocked(e *sfuEndpoint) []string {
	var ids []string
	for _, st := range s.streamers.List() {
		if st != e.streamer {
			ids = append(ids, st.id)
		}
	}
	for _, p := range s.players.List() {
		if p != e.player {
			ids = append(ids, p.id)
		}
	}
	return ids
}

func (s *Server) renameSFU(e *sfuEndpoint, requested string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := e.player.id
	if requested == "" {
		requested = old
	}
	id := services.SanitizeID(requested, s.sfuIDsLocked(e))
	if id != old {
		if err := s.streamers.Reassign(e.streamer, id); err != nil {
			e.player.conn.logger.Errorw("failed to rename sfu", "sfu_id", old, "error", err)
			return
		}
		if err := s.players.Reassign(e.player, id); err != nil {
			_ = s.streamers.Reassign(e.streamer, old)
			e.player.conn.logger.Errorw("failed to rename sfu", "sfu_id", old, "error", err)
			return
		}
		e.player.conn.logger.Infow("sfu renamed", "previous_id", old, "sfu_id", id)
		for _, p := range e.streamer.subscribers {
			p.conn.Send(&protocol.StreamerIDChanged{NewID: id})
		}
	}
	e.player.conn.Send(&protocol.EndpointIDConfirm{CommittedID: id})
}

func (s *Server) setSFUStreaming(e *sfuEndpoint, streaming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.streamer.streaming == streaming {
		return
	}
	e.streamer.streaming = streaming
	if !streaming {
		s.dropSubscribersLocked(e.streamer)
	}
	e.player.conn.logger.Infow("sfu streaming state changed", "sfu_id", e.player.id, "streaming", streaming)
}
