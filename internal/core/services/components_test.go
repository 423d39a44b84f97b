package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"pixelrelay/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockComponent struct {
	mock.Mock
	name string
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Initialize(cfg *config.Config) error {
	return m.Called(cfg).Error(0)
}

func (m *mockComponent) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// untilDone makes Run block until its context ends.
func untilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func TestRunComponents_InitializeFailureStopsBeforeRun(t *testing.T) {
	cfg := config.DefaultConfig()
	first := &mockComponent{name: "first"}
	second := &mockComponent{name: "second"}
	first.On("Initialize", cfg).Return(errors.New("bad address"))

	err := RunComponents(context.Background(), cfg, zap.NewNop().Sugar(), first, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize first")

	first.AssertNotCalled(t, "Run", mock.Anything)
	second.AssertNotCalled(t, "Initialize", mock.Anything)
}

func TestRunComponents_FailureCancelsOthers(t *testing.T) {
	cfg := config.DefaultConfig()
	failing := &mockComponent{name: "web"}
	steady := &mockComponent{name: "signalling"}
	boom := errors.New("listen failed")

	failing.On("Initialize", cfg).Return(nil)
	failing.On("Run", mock.Anything).Return(boom)
	steady.On("Initialize", cfg).Return(nil)
	steady.On("Run", mock.Anything).Run(untilDone).Return(context.Canceled)

	err := RunComponents(context.Background(), cfg, zap.NewNop().Sugar(), steady, failing)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "web")
	steady.AssertExpectations(t)
}

func TestRunComponents_EarlyNilDoesNotCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	idle := &mockComponent{name: "metrics"}
	steady := &mockComponent{name: "sfu"}

	idle.On("Initialize", cfg).Return(nil)
	idle.On("Run", mock.Anything).Return(nil)
	steady.On("Initialize", cfg).Return(nil)
	steady.On("Run", mock.Anything).Run(untilDone).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunComponents(ctx, cfg, zap.NewNop().Sugar(), idle, steady) }()

	select {
	case err := <-done:
		t.Fatalf("returned before cancellation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("did not return after cancellation")
	}
}
