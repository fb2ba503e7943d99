// Package observability owns the process-wide CLI logger.
//
// Commands log through CLILogger; library packages take a *zap.Logger
// argument and never reach for this global themselves.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It is a no-op logger until
// InitCLILogger runs so that tests and library callers never hit a nil.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for the named binary.
//
// Output goes to stderr so that stdout stays reserved for the status tree
// and JSONL records. verbose forces debug level.
func InitCLILogger(name string, verbose bool) {
	CLILogger = NewLogger(name, "info", verbose)
}

// InitCLILoggerWithLevel configures CLILogger with an explicit level string
// (debug, info, warn, error). Unknown levels fall back to info.
func InitCLILoggerWithLevel(name, level string, verbose bool) {
	CLILogger = NewLogger(name, level, verbose)
}

// NewLogger builds a console logger writing to stderr.
func NewLogger(name, level string, verbose bool) *zap.Logger {
	lvl := parseLevel(level)
	if verbose {
		lvl = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)

	logger := zap.New(core)
	if name != "" {
		logger = logger.Named(name)
	}
	return logger
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
