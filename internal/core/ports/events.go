package ports

import (
	"context"

	"pixelrelay/internal/core/domain"
)

// EventPublisher fans registry events out to other instances or observers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.RegistryEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.RegistryEvent) error { return nil }
