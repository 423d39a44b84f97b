package webrtc

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// Engine creates the media sessions of an SFU. Done is closed if the
// engine can no longer create sessions; the SFU treats that as fatal.
type Engine interface {
	NewUpstream(ctx context.Context, opts UpstreamOptions) (Upstream, error)
	NewDownstream(ctx context.Context, playerID string, source Upstream, opts DownstreamOptions) (Downstream, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

type UpstreamOptions struct {
	ScalabilityMode string
}

type DownstreamOptions struct {
	// DataChannel adds an in-band data channel to the player offer.
	DataChannel bool
}

// Upstream is the single session between the SFU and its streamer.
type Upstream interface {
	// Answer applies the streamer offer and returns a complete local answer.
	Answer(ctx context.Context, offer string) (string, error)
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICEStateChange(fn func(webrtc.ICEConnectionState))
	// OpenDataChannel opens a pre-negotiated channel on SCTP stream id.
	OpenDataChannel(label string, id uint16) (DataChannel, error)
	RequestKeyframe() error
	Close() error
}

// Downstream is one player's session, fed from an Upstream.
type Downstream interface {
	// Offer returns a complete local offer carrying the forwarded tracks.
	Offer(ctx context.Context) (string, error)
	SetAnswer(answer string) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICEStateChange(fn func(webrtc.ICEConnectionState))
	// OnDataChannel fires once the in-band data channel opens.
	OnDataChannel(fn func(DataChannel))
	OpenDataChannel(label string, id uint16) (DataChannel, error)
	// OnKeyframeRequest fires on PLI or FIR from the player.
	OnKeyframeRequest(fn func())
	SetLayerPreference(spatial, temporal int)
	Close() error
}
