package domain

// EndpointKind identifies which listener an endpoint connected through.
type EndpointKind string

const (
	KindStreamer EndpointKind = "streamer"
	KindPlayer   EndpointKind = "player"
	KindSFU      EndpointKind = "sfu"
)

// Default id prefixes used when an endpoint connects without naming itself.
const (
	DefaultPlayerPrefix   = "Player"
	DefaultStreamerPrefix = "Streamer"
	DefaultSFUID          = "SFU"
)

// SubscriptionState is a player's position in the subscribe protocol.
type SubscriptionState string

const (
	SubscriptionIdle       SubscriptionState = "idle"
	SubscriptionSubscribed SubscriptionState = "subscribed"
)

// StreamerInfo is a snapshot of a streamer for the REST API.
type StreamerInfo struct {
	ID                string       `json:"id"`
	Kind              EndpointKind `json:"type"`
	RemoteAddress     string       `json:"remoteAddress"`
	MaxSubscribers    int          `json:"maxSubscribers"`
	Subscribers       []string     `json:"subscribers"`
	QualityController string       `json:"qualityController,omitempty"`
	Streaming         bool         `json:"streaming"`
}

// PlayerInfo is a snapshot of a player for the REST API.
type PlayerInfo struct {
	ID                string            `json:"id"`
	Kind              EndpointKind      `json:"type"`
	RemoteAddress     string            `json:"remoteAddress"`
	State             SubscriptionState `json:"state"`
	SubscribedTo      string            `json:"subscribedTo,omitempty"`
	QualityController bool              `json:"qualityController"`
}

// ServerStatus summarises a running signalling server.
type ServerStatus struct {
	Uptime    string `json:"uptime"`
	Streamers int    `json:"streamers"`
	Players   int    `json:"players"`
	Version   string `json:"protocolVersion"`
}
