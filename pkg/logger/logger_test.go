package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARN"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew(t *testing.T) {
	l := New("debug")
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	c := NewWithFormat("error", "console")
	assert.False(t, c.Core().Enabled(zapcore.InfoLevel))
}

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core).Sugar())

	ctx := WithSession(context.Background(), "sess-1")
	cl.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestPionLoggerFactory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := NewPionLoggerFactory(zap.New(core).Sugar())

	l := f.NewLogger("ice")
	l.Infof("candidate %d", 3)
	l.Trace("trace line")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "candidate 3", logs.All()[0].Message)
	assert.Equal(t, "ice", logs.All()[0].ContextMap()["pion_scope"])
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}
