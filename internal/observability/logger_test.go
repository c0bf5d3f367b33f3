package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	origCLI, origSrv := CLILogger, ServerLogger
	defer func() { CLILogger, ServerLogger = origCLI, origSrv }()

	require.NoError(t, Init("debug", ProfileStructured))
	assert.True(t, ServerLogger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init("warn", "unknown-profile"))
	assert.False(t, ServerLogger.Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, Init("nope", ProfileConsole))
}
