package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	logger, err := New(false)
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.DebugLevel))
	require.True(t, logger.Core().Enabled(zap.InfoLevel))

	debug, err := New(true)
	require.NoError(t, err)
	require.True(t, debug.Core().Enabled(zap.DebugLevel))
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))

	logger := zap.NewExample()
	require.Same(t, logger, OrNop(logger))
}
