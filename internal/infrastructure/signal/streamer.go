package signal

import (
	"context"

	"pixelrelay/internal/core/domain"
	"pixelrelay/pkg/protocol"

	"github.com/gorilla/websocket"
)

func (s *Server) serveStreamer(conn *Connection) {
	st := &Streamer{
		conn:           conn,
		kind:           domain.KindStreamer,
		maxSubscribers: s.opts.MaxSubscribers,
		streaming:      true,
	}

	s.handleStreamerRole(st)
	On(conn, func(ctx context.Context, msg *protocol.EndpointID) {
		s.renameStreamer(st, msg.ID)
	})
	On(conn, pong(conn))

	s.mu.Lock()
	id := s.streamers.Add(st)
	s.mu.Unlock()

	conn.OnClose(func(int, string) {
		s.mu.Lock()
		s.streamers.Remove(st)
		s.dropSubscribersLocked(st)
		s.mu.Unlock()
		conn.logger.Infow("streamer disconnected", "streamer_id", st.id)
	})

	conn.logger.Infow("streamer connected", "streamer_id", id)
	conn.Send(&protocol.Identify{})
}

// handleStreamerRole installs the relays a producer needs. SFUs share them.
func (s *Server) handleStreamerRole(st *Streamer) {
	conn := st.conn

	On(conn, func(ctx context.Context, msg *protocol.Offer) {
		playerID := msg.PlayerID
		msg.PlayerID = ""
		s.toPlayer(st, playerID, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.Answer) {
		playerID := msg.PlayerID
		msg.PlayerID = ""
		s.toPlayer(st, playerID, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.ICECandidate) {
		playerID := msg.PlayerID
		msg.PlayerID = ""
		s.toPlayer(st, playerID, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.PeerDataChannels) {
		s.toPlayer(st, msg.PlayerID, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.DisconnectPlayer) {
		s.disconnectSubscriber(st, msg.PlayerID, msg.Reason)
	})
}

func (s *Server) disconnectSubscriber(st *Streamer, playerID, reason string) {
	s.mu.Lock()
	p, ok := s.players.Get(playerID)
	subscribed := ok && p.subscribedTo == st
	s.mu.Unlock()

	if !subscribed {
		st.conn.logger.Warnw("disconnectPlayer for a player not subscribed to this streamer", "streamer_id", st.id, "player_id", playerID)
		return
	}
	st.conn.logger.Infow("disconnecting player", "streamer_id", st.id, "player_id", playerID, "reason", reason)
	p.conn.Close(websocket.CloseInternalServerErr, reason)
}

func (s *Server) renameStreamer(st *Streamer, requested string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := st.id
	id, err := s.streamers.Rename(st, requested)
	if err != nil {
		st.conn.logger.Errorw("failed to rename streamer", "streamer_id", old, "error", err)
		return
	}
	st.conn.Send(&protocol.EndpointIDConfirm{CommittedID: id})
	if id == old {
		return
	}

	st.conn.logger.Infow("streamer renamed", "previous_id", old, "streamer_id", id)
	for _, p := range st.subscribers {
		p.conn.Send(&protocol.StreamerIDChanged{NewID: id})
	}
}
