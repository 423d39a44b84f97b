package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"pixelrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "pixelrelay:events"

// Envelope is the wire form of a registry event on the bus.
type Envelope struct {
	InstanceID string               `json:"instance_id"`
	Event      domain.RegistryEvent `json:"event"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventBus publishes registry events to a redis channel so dashboards and
// peer signalling instances can follow registry changes. It implements
// ports.EventPublisher.
type EventBus struct {
	client     publisher
	subscriber redis.UniversalClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client redis.UniversalClient, channel string, logger *zap.SugaredLogger) *EventBus {
	bus := newEventBus(client, channel, logger)
	bus.subscriber = client
	return bus
}

func newEventBus(client publisher, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	instanceID := uuid.NewString()
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger.With("instance_id", instanceID, "channel", channel),
	}
}

func (eb *EventBus) InstanceID() string { return eb.instanceID }

func (eb *EventBus) Publish(ctx context.Context, event domain.RegistryEvent) error {
	data, err := json.Marshal(Envelope{InstanceID: eb.instanceID, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published registry event",
		"kind", event.Kind,
		"registry", event.Registry,
		"id", event.ID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Envelope) error) error {
	if eb.subscriber == nil {
		return fmt.Errorf("event bus has no subscriber connection")
	}

	pubsub := eb.subscriber.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.deliver(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) deliver(payload string, handler func(Envelope) error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}
	if env.InstanceID == eb.instanceID {
		return
	}
	if err := handler(env); err != nil {
		eb.logger.Warnw("error handling event",
			"kind", env.Event.Kind,
			"from", env.InstanceID,
			"error", err,
		)
	}
}
