package signal

import (
	"pixelrelay/internal/core/domain"
)

// Streamer is a media producer as seen by the signalling server. An SFU
// appears as a Streamer with Kind KindSFU once it starts streaming.
//
// All fields other than conn are guarded by the server mutex.
type Streamer struct {
	conn *Connection
	id   string
	kind domain.EndpointKind

	maxSubscribers    int
	subscribers       []*Player
	qualityController *Player
	streaming         bool
}

func (s *Streamer) EndpointID() string      { return s.id }
func (s *Streamer) SetEndpointID(id string) { s.id = id }

func (s *Streamer) full() bool {
	return s.maxSubscribers > 0 && len(s.subscribers) >= s.maxSubscribers
}

func (s *Streamer) removeSubscriber(p *Player) bool {
	for i, sub := range s.subscribers {
		if sub == p {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			if s.qualityController == p {
				s.qualityController = nil
				if len(s.subscribers) > 0 {
					s.qualityController = s.subscribers[0]
				}
			}
			return true
		}
	}
	return false
}

func (s *Streamer) info() domain.StreamerInfo {
	subs := make([]string, 0, len(s.subscribers))
	for _, p := range s.subscribers {
		subs = append(subs, p.id)
	}
	info := domain.StreamerInfo{
		ID:             s.id,
		Kind:           s.kind,
		RemoteAddress:  s.conn.RemoteAddr(),
		MaxSubscribers: s.maxSubscribers,
		Subscribers:    subs,
		Streaming:      s.streaming,
	}
	if s.qualityController != nil {
		info.QualityController = s.qualityController.id
	}
	return info
}

// Player is a media consumer. An SFU is also registered as a Player so it can
// subscribe upstream.
type Player struct {
	conn *Connection
	id   string
	kind domain.EndpointKind

	subscribedTo *Streamer
}

func (p *Player) EndpointID() string      { return p.id }
func (p *Player) SetEndpointID(id string) { p.id = id }

func (p *Player) state() domain.SubscriptionState {
	if p.subscribedTo != nil {
		return domain.SubscriptionSubscribed
	}
	return domain.SubscriptionIdle
}

func (p *Player) info() domain.PlayerInfo {
	info := domain.PlayerInfo{
		ID:            p.id,
		Kind:          p.kind,
		RemoteAddress: p.conn.RemoteAddr(),
		State:         p.state(),
	}
	if p.subscribedTo != nil {
		info.SubscribedTo = p.subscribedTo.id
		info.QualityController = p.subscribedTo.qualityController == p
	}
	return info
}

// sfuEndpoint pairs the two registry entries of one SFU connection. Both
// always carry the same id.
type sfuEndpoint struct {
	streamer *Streamer
	player   *Player
}

func (e *sfuEndpoint) setID(id string) {
	e.streamer.id = id
	e.player.id = id
}
