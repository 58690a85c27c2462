package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoggerInitialization(t *testing.T) {
	// Logger must be usable before Initialize() (no-op, no panic)
	Infow("message before initialization", "key", "value")

	err := Initialize(false)
	require.NoError(t, err)
	assert.NotNil(t, Logger)
	assert.False(t, JSONOutput)

	err = Initialize(true)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityUser))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestNamed(t *testing.T) {
	require.NoError(t, Initialize(false))
	child := Named("ticker")
	assert.NotNil(t, child)
	child.Infow("named logger works")
}
