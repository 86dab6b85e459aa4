package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{"dev default", "dev", "", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"empty mode is dev", "", "", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"prod default", "prod", "", zapcore.InfoLevel, zapcore.DebugLevel},
		{"build default", "build", "", zapcore.InfoLevel, zapcore.DebugLevel},
		{"explicit level", "dev", "warn", zapcore.WarnLevel, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.mode, tt.level)
			require.NoError(t, err)
			defer logger.Sync()

			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.off))
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("dev", "loud")
	assert.Error(t, err)
}

func TestMustNewFallsBackToNop(t *testing.T) {
	logger := MustNew("dev", "loud")
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.FatalLevel))
}
