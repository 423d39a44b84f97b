package ports

import (
	"time"

	"pixelrelay/internal/core/domain"
)

// SignallingMetrics is the instrumentation surface of the signalling server.
type SignallingMetrics interface {
	ConnectionOpened(kind domain.EndpointKind)
	ConnectionClosed(kind domain.EndpointKind)
	MessageReceived(kind domain.EndpointKind, messageType string)
	MessageDropped(kind domain.EndpointKind, reason string)
	SubscribeResult(ok bool)
}

// SFUMetrics is the instrumentation surface of the SFU.
type SFUMetrics interface {
	SetState(state string)
	PlayerSessions(n int)
	DataFrameRelayed(direction string, bytes int)
	DataFrameDropped(reason string)
	NegotiationDuration(step string, d time.Duration)
	Reconnect()
}
