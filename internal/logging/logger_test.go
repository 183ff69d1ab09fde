package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	} {
		t.Run(tc.level, func(t *testing.T) {
			logger, err := New(tc.level)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tc.want))
			assert.False(t, logger.Core().Enabled(tc.want-1))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("chatty")
	assert.ErrorContains(t, err, "chatty")
}
