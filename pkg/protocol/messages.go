// Package protocol implements the Pixel Streaming signalling wire format: JSON
// control messages discriminated by a "type" field, and the binary frames the
// SFU uses to multiplex player data channels over one upstream channel.
package protocol

import "encoding/json"

// SignallingVersion is advertised to every endpoint in the config message.
const SignallingVersion = "1.0.0"

// Type is a message discriminator.
type Type string

const (
	TypeIdentify              Type = "identify"
	TypeEndpointID            Type = "endpointId"
	TypeEndpointIDConfirm     Type = "endpointIdConfirm"
	TypeConfig                Type = "config"
	TypeListStreamers         Type = "listStreamers"
	TypeStreamerList          Type = "streamerList"
	TypeSubscribe             Type = "subscribe"
	TypeUnsubscribe           Type = "unsubscribe"
	TypeSubscribeFailed       Type = "subscribeFailed"
	TypeOffer                 Type = "offer"
	TypeAnswer                Type = "answer"
	TypeICECandidate          Type = "iceCandidate"
	TypeStartStreaming        Type = "startStreaming"
	TypeStopStreaming         Type = "stopStreaming"
	TypePlayerConnected       Type = "playerConnected"
	TypePlayerDisconnected    Type = "playerDisconnected"
	TypeStreamerDisconnected  Type = "streamerDisconnected"
	TypeStreamerIDChanged     Type = "streamerIdChanged"
	TypeDisconnectPlayer      Type = "disconnectPlayer"
	TypePlayerCount           Type = "playerCount"
	TypePing                  Type = "ping"
	TypePong                  Type = "pong"
	TypeLayerPreference       Type = "layerPreference"
	TypeDataChannelRequest    Type = "dataChannelRequest"
	TypePeerDataChannelsReady Type = "peerDataChannelsReady"
	TypePeerDataChannels      Type = "peerDataChannels"
	TypeStreamerDataChannels  Type = "streamerDataChannels"
)

// Message is implemented by every wire message. Messages are always handled
// through pointers.
type Message interface {
	MessageType() Type
}

type Identify struct{}

type EndpointID struct {
	ID              string `json:"id"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

type EndpointIDConfirm struct {
	CommittedID string `json:"committedId"`
}

// Config is sent to every endpoint as soon as it connects. PeerConnectionOptions
// is passed through verbatim from configuration.
type Config struct {
	ProtocolVersion       string          `json:"protocolVersion"`
	PeerConnectionOptions json.RawMessage `json:"peerConnectionOptions"`
}

type ListStreamers struct{}

type StreamerList struct {
	IDs []string `json:"ids"`
}

type Subscribe struct {
	StreamerID string `json:"streamerId"`
}

type Unsubscribe struct{}

type SubscribeFailed struct {
	Message string `json:"message"`
}

// Offer carries an SDP offer. PlayerID is set on the streamer side of the
// relay and stripped before the offer reaches a player.
type Offer struct {
	SDP             string `json:"sdp"`
	PlayerID        string `json:"playerId,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
	Multiplex       bool   `json:"multiplex,omitempty"`
}

type Answer struct {
	SDP      string `json:"sdp"`
	PlayerID string `json:"playerId,omitempty"`
}

// CandidateInit mirrors the browser RTCIceCandidateInit dictionary.
type CandidateInit struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ICECandidate struct {
	Candidate CandidateInit `json:"candidate"`
	PlayerID  string        `json:"playerId,omitempty"`
}

type StartStreaming struct{}

type StopStreaming struct{}

type PlayerConnected struct {
	PlayerID    string `json:"playerId"`
	DataChannel bool   `json:"dataChannel"`
	SFU         bool   `json:"sfu"`
}

type PlayerDisconnected struct {
	PlayerID string `json:"playerId"`
}

type StreamerDisconnected struct{}

type StreamerIDChanged struct {
	NewID string `json:"newID"`
}

type DisconnectPlayer struct {
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason,omitempty"`
}

type PlayerCount struct {
	Count int `json:"count"`
}

type Ping struct {
	Time int64 `json:"time"`
}

type Pong struct {
	Time int64 `json:"time"`
}

type LayerPreference struct {
	SpatialLayer  int    `json:"spatialLayer"`
	TemporalLayer int    `json:"temporalLayer"`
	PlayerID      string `json:"playerId,omitempty"`
}

type DataChannelRequest struct {
	PlayerID string `json:"playerId,omitempty"`
}

type PeerDataChannelsReady struct {
	PlayerID string `json:"playerId,omitempty"`
}

type PeerDataChannels struct {
	PlayerID     string `json:"playerId"`
	SendStreamID uint16 `json:"sendStreamId"`
	RecvStreamID uint16 `json:"recvStreamId"`
}

type StreamerDataChannels struct {
	SFUID        string `json:"sfuId"`
	PlayerID     string `json:"playerId,omitempty"`
	SendStreamID uint16 `json:"sendStreamId"`
	RecvStreamID uint16 `json:"recvStreamId"`
}

func (*Identify) MessageType() Type              { return TypeIdentify }
func (*EndpointID) MessageType() Type            { return TypeEndpointID }
func (*EndpointIDConfirm) MessageType() Type     { return TypeEndpointIDConfirm }
func (*Config) MessageType() Type                { return TypeConfig }
func (*ListStreamers) MessageType() Type         { return TypeListStreamers }
func (*StreamerList) MessageType() Type          { return TypeStreamerList }
func (*Subscribe) MessageType() Type             { return TypeSubscribe }
func (*Unsubscribe) MessageType() Type           { return TypeUnsubscribe }
func (*SubscribeFailed) MessageType() Type       { return TypeSubscribeFailed }
func (*Offer) MessageType() Type                 { return TypeOffer }
func (*Answer) MessageType() Type                { return TypeAnswer }
func (*ICECandidate) MessageType() Type          { return TypeICECandidate }
func (*StartStreaming) MessageType() Type        { return TypeStartStreaming }
func (*StopStreaming) MessageType() Type         { return TypeStopStreaming }
func (*PlayerConnected) MessageType() Type       { return TypePlayerConnected }
func (*PlayerDisconnected) MessageType() Type    { return TypePlayerDisconnected }
func (*StreamerDisconnected) MessageType() Type  { return TypeStreamerDisconnected }
func (*StreamerIDChanged) MessageType() Type     { return TypeStreamerIDChanged }
func (*DisconnectPlayer) MessageType() Type      { return TypeDisconnectPlayer }
func (*PlayerCount) MessageType() Type           { return TypePlayerCount }
func (*Ping) MessageType() Type                  { return TypePing }
func (*Pong) MessageType() Type                  { return TypePong }
func (*LayerPreference) MessageType() Type       { return TypeLayerPreference }
func (*DataChannelRequest) MessageType() Type    { return TypeDataChannelRequest }
func (*PeerDataChannelsReady) MessageType() Type { return TypePeerDataChannelsReady }
func (*PeerDataChannels) MessageType() Type      { return TypePeerDataChannels }
func (*StreamerDataChannels) MessageType() Type  { return TypeStreamerDataChannels }

var factories = map[Type]func() Message{
	TypeIdentify:              func() Message { return &Identify{} },
	TypeEndpointID:            func() Message { return &EndpointID{} },
	TypeEndpointIDConfirm:     func() Message { return &EndpointIDConfirm{} },
	TypeConfig:                func() Message { return &Config{} },
	TypeListStreamers:         func() Message { return &ListStreamers{} },
	TypeStreamerList:          func() Message { return &StreamerList{} },
	TypeSubscribe:             func() Message { return &Subscribe{} },
	TypeUnsubscribe:           func() Message { return &Unsubscribe{} },
	TypeSubscribeFailed:       func() Message { return &SubscribeFailed{} },
	TypeOffer:                 func() Message { return &Offer{} },
	TypeAnswer:                func() Message { return &Answer{} },
	TypeICECandidate:          func() Message { return &ICECandidate{} },
	TypeStartStreaming:        func() Message { return &StartStreaming{} },
	TypeStopStreaming:         func() Message { return &StopStreaming{} },
	TypePlayerConnected:       func() Message { return &PlayerConnected{} },
	TypePlayerDisconnected:    func() Message { return &PlayerDisconnected{} },
	TypeStreamerDisconnected:  func() Message { return &StreamerDisconnected{} },
	TypeStreamerIDChanged:     func() Message { return &StreamerIDChanged{} },
	TypeDisconnectPlayer:      func() Message { return &DisconnectPlayer{} },
	TypePlayerCount:           func() Message { return &PlayerCount{} },
	TypePing:                  func() Message { return &Ping{} },
	TypePong:                  func() Message { return &Pong{} },
	TypeLayerPreference:       func() Message { return &LayerPreference{} },
	TypeDataChannelRequest:    func() Message { return &DataChannelRequest{} },
	TypePeerDataChannelsReady: func() Message { return &PeerDataChannelsReady{} },
	TypePeerDataChannels:      func() Message { return &PeerDataChannels{} },
	TypeStreamerDataChannels:  func() Message { return &StreamerDataChannels{} },
}

// Known reports whether t is part of the message set.
func Known(t Type) bool {
	_, ok := factories[t]
	return ok
}
