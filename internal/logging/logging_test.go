package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"trace", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		verbose   bool
		wantDebug bool
		wantWarn  bool
	}{
		{name: "json info", level: "info", format: "json", wantWarn: true},
		{name: "default format", level: "warn", format: "", wantWarn: true},
		{name: "console debug", level: "debug", format: "console", wantDebug: true, wantWarn: true},
		{name: "verbose overrides level", level: "error", format: "json", verbose: true, wantDebug: true, wantWarn: true},
		{name: "error only", level: "error", format: "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format, tt.verbose)
			require.NoError(t, err)
			defer func() { _ = logger.Sync() }()

			assert.Equal(t, tt.wantDebug, logger.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.wantWarn, logger.Core().Enabled(zapcore.WarnLevel))
			assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New("loud", "json", false)
	assert.ErrorContains(t, err, "unknown log level")

	_, err = New("info", "xml", false)
	assert.ErrorContains(t, err, "unknown log format")
}
