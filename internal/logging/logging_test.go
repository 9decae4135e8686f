// internal/logging/logging_test.go
package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/signalnine/leafdoc/internal/config"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		verbose bool
		want    zapcore.Level
	}{
		{"default", config.LogConfig{}, false, zapcore.InfoLevel},
		{"warn json", config.LogConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{"verbose wins", config.LogConfig{Level: "error"}, true, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, tt.verbose)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty"}, false)
	require.Error(t, err)
}
