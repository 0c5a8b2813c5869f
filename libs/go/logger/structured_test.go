package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStructuredLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewStructuredLoggerWith(zap.New(core), ComponentRelay).
		WithInvocation("inv-1", 2).
		WithAction("register_for", "0xabc").
		WithField("dry_run", true)

	sl.Info("assembled")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "relay", ctx["component"])
	assert.Equal(t, "inv-1", ctx["invocation_id"])
	assert.Equal(t, int64(2), ctx["peer"])
	assert.Equal(t, "register_for", ctx["action"])
	assert.Equal(t, "0xabc", ctx["actor"])
	assert.Equal(t, true, ctx["dry_run"])
}

func TestStructuredLogger_CloneDoesNotLeakFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewStructuredLoggerWith(zap.New(core), ComponentQuorum)
	_ = base.WithField("key", "nonce")

	base.Info("plain")

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["key"]
	assert.False(t, ok)
}

func TestStructuredLogger_LogOperation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewStructuredLoggerWith(zap.New(core), ComponentSigner)

	err := sl.LogOperation("sign", func() error { return errors.New("quorum not reached") })

	assert.EqualError(t, err, "quorum not reached")
	failed := logs.FilterMessage("Operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "sign", failed[0].ContextMap()["operation"])
}

func TestOr(t *testing.T) {
	explicit := zap.NewExample()
	assert.Same(t, explicit, Or(explicit))

	saved := Log
	Log = nil
	defer func() { Log = saved }()
	assert.NotNil(t, Or(nil))
}

func TestInitLoggerWithOptions(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	InitLoggerWithOptions(Options{Level: "bogus", Stage: "dev"})
	require.NotNil(t, Log)
	assert.True(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, Log.Core().Enabled(zapcore.DebugLevel))

	InitLoggerWithOptions(Options{Level: "error", Stage: "prod", JSON: true})
	assert.False(t, Log.Core().Enabled(zapcore.WarnLevel))
}

func TestAnnotate(t *testing.T) {
	saved := Log
	defer func() { Log = saved }()

	core, logs := observer.New(zapcore.InfoLevel)
	Log = zap.New(core)
	Annotate(zap.String("sponsor", "0xabc"))
	Info("ready")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "0xabc", logs.All()[0].ContextMap()["sponsor"])
}
