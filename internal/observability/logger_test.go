package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  zapcore.Level
	}{
		{name: "debug", input: "debug", want: zapcore.DebugLevel},
		{name: "upper case warn", input: "WARN", want: zapcore.WarnLevel},
		{name: "padded error", input: "  error ", want: zapcore.ErrorLevel},
		{name: "unknown falls back", input: "chatty", want: zapcore.InfoLevel},
		{name: "empty falls back", input: "", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", false)
	assert.True(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILoggerWithLevel("test", "error", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.WarnLevel))
}
