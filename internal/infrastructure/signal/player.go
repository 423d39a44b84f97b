package signal

import (
	"context"

	"pixelrelay/internal/core/domain"
	"pixelrelay/pkg/protocol"
)

func (s *Server) servePlayer(conn *Connection) {
	p := &Player{conn: conn, kind: domain.KindPlayer}

	s.handlePlayerRole(p)
	On(conn, func(ctx context.Context, msg *protocol.EndpointID) {
		s.renamePlayer(p, msg.ID)
	})
	On(conn, pong(conn))
	On(conn, func(ctx context.Context, msg *protocol.Offer) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.Answer) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.ICECandidate) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})

	s.mu.Lock()
	id := s.players.Add(p)
	s.mu.Unlock()

	conn.OnClose(func(int, string) {
		s.mu.Lock()
		s.unsubscribeLocked(p)
		s.players.Remove(p)
		s.mu.Unlock()
		conn.logger.Infow("player disconnected", "player_id", p.id)
	})

	conn.logger.Infow("player connected", "player_id", id)
	conn.Send(&protocol.Identify{})
}

// handlePlayerRole installs the consumer side of the protocol. SFUs share it.
func (s *Server) handlePlayerRole(p *Player) {
	conn := p.conn

	On(conn, func(ctx context.Context, msg *protocol.ListStreamers) {
		s.listStreamers(p)
	})
	On(conn, func(ctx context.Context, msg *protocol.Subscribe) {
		s.subscribe(ctx, p, msg.StreamerID)
	})
	On(conn, func(ctx context.Context, msg *protocol.Unsubscribe) {
		s.unsubscribe(p)
	})
	On(conn, func(ctx context.Context, msg *protocol.LayerPreference) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.DataChannelRequest) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})
	On(conn, func(ctx context.Context, msg *protocol.PeerDataChannelsReady) {
		msg.PlayerID = p.id
		s.toStreamer(p, msg)
	})
}

func (s *Server) renamePlayer(p *Player, requested string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := p.id
	id, err := s.players.Rename(p, requested)
	if err != nil {
		p.conn.logger.Errorw("failed to rename player", "player_id", old, "error", err)
		return
	}
	if id != old {
		p.conn.logger.Infow("player renamed", "previous_id", old, "player_id", id)
		if st := p.subscribedTo; st != nil {
			// The streamer keys its peer connections by player id.
			st.conn.Send(&protocol.PlayerDisconnected{PlayerID: old})
			st.conn.Send(&protocol.PlayerConnected{
				PlayerID:    id,
				DataChannel: true,
				SFU:         p.kind == domain.KindSFU,
			})
		}
	}
	p.conn.Send(&protocol.EndpointIDConfirm{CommittedID: id})
}
