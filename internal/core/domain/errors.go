package domain

import "errors"

var (
	ErrStreamerNotFound  = errors.New("streamer not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrStreamerFull      = errors.New("streamer has reached its subscriber limit")
	ErrEndpointIDTaken   = errors.New("endpoint id already registered")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrUpstreamBound     = errors.New("producer is already connected")
	ErrNoUpstream        = errors.New("no upstream session")
	ErrEngineUnavailable = errors.New("media engine unavailable")
)
