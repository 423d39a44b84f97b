package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pixelrelay/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	channel string
	payload []byte
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.payload, _ = message.([]byte)
	return redis.NewIntResult(1, p.err)
}

func TestEventBusPublish(t *testing.T) {
	pub := &recordingPublisher{}
	bus := newEventBus(pub, "", zap.NewNop().Sugar())

	event := domain.RegistryEvent{
		Kind:     domain.EventAdded,
		Registry: domain.KindStreamer,
		ID:       "Alpha",
		Count:    1,
		At:       time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, bus.Publish(context.Background(), event))

	assert.Equal(t, DefaultChannel, pub.channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.payload, &env))
	assert.Equal(t, bus.InstanceID(), env.InstanceID)
	assert.Equal(t, event, env.Event)
}

func TestEventBusPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	bus := newEventBus(pub, "custom", zap.NewNop().Sugar())

	err := bus.Publish(context.Background(), domain.RegistryEvent{Kind: domain.EventRemoved})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "custom", pub.channel)
}

func TestEventBusDeliverSkipsOwnEvents(t *testing.T) {
	bus := newEventBus(&recordingPublisher{}, "", zap.NewNop().Sugar())

	var got []Envelope
	handler := func(env Envelope) error {
		got = append(got, env)
		return nil
	}

	own, _ := json.Marshal(Envelope{InstanceID: bus.InstanceID(), Event: domain.RegistryEvent{ID: "mine"}})
	other, _ := json.Marshal(Envelope{InstanceID: "other", Event: domain.RegistryEvent{ID: "theirs"}})

	bus.deliver(string(own), handler)
	bus.deliver("not json", handler)
	bus.deliver(string(other), handler)

	require.Len(t, got, 1)
	assert.Equal(t, "theirs", got[0].Event.ID)
}

func TestEventBusSubscribeWithoutClient(t *testing.T) {
	bus := newEventBus(&recordingPublisher{}, "", zap.NewNop().Sugar())
	assert.Error(t, bus.Subscribe(context.Background(), func(Envelope) error { return nil }))
}
