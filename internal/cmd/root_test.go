package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/pipecheck/internal/config"
	errwrap "github.com/3leaps/pipecheck/internal/errors"
)

// executeCommand runs the root command with args against a clean
// environment and returns everything written to stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PIPECHECK_SHELL", "/bin/sh,-c")
	t.Setenv("PIPECHECK_POLL_INTERVAL", "10ms")
	resetFlags()
	t.Cleanup(func() {
		resetFlags()
		config.SetConfigFile("")
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores package flag variables between executions; cobra
// commands are package singletons.
func resetFlags() {
	cfgFile, logLevel = "", ""
	requirePipeline = ""
	requireNCores = 1
	requireVerbose = false
	requireSteps = nil
	requireSkip = nil
	requireRate = 0
	requireOutput = config.FormatTree
	requireDryRun = false

	for _, c := range []*cobra.Command{rootCmd, requireCmd, listCmd, doctorCmd, versionCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
		c.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *errwrap.ExitError
	require.True(t, errors.As(err, &ee), "expected an exit error, got %v", err)
	return ee.Code
}

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Cannot resolve pipeline", cause)

	assert.Equal(t, foundry.ExitInvalidArgument, errwrap.CodeOf(err, exitUnmet))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Cannot resolve pipeline: boom", err.Error())
}

func TestRootCommand_UnknownConfigFile(t *testing.T) {
	_, err := executeCommand(t, "--config", "/nonexistent/pipecheck.yaml", "version")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, exitCode(t, err))
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	t.Setenv("PIPECHECK_NCORES", "0")

	_, err := executeCommand(t, "version")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(t, err))
	assert.Contains(t, err.Error(), "ncores must be at least 1")
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-10-01")

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pipecheck 1.2.3")
	assert.Contains(t, out, "commit:   abc123")
	assert.Contains(t, out, "built:    2026-10-01")
}
