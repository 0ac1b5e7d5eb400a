package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{name: "json info", level: "info", format: "json", enabled: zapcore.InfoLevel, muted: zapcore.DebugLevel},
		{name: "text debug", level: "debug", format: "text", enabled: zapcore.DebugLevel, muted: zapcore.DebugLevel - 1},
		{name: "empty format", level: "warn", format: "", enabled: zapcore.WarnLevel, muted: zapcore.InfoLevel},
		{name: "bad level", level: "loud", format: "json", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger.Check(tt.enabled, "on"))
			assert.Nil(t, logger.Check(tt.muted, "off"))
		})
	}
}
