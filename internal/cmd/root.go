// Package cmd implements the pipecheck command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pipecheck/internal/config"
	errwrap "github.com/3leaps/pipecheck/internal/errors"
	"github.com/3leaps/pipecheck/internal/observability"
)

// AppName is the binary name used in banners and the logger.
const AppName = "pipecheck"

// exitUnmet is the exit code when at least one requirement is not met.
const exitUnmet = 1

// VersionInfo holds build metadata injected through ldflags.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Check that a pipeline's step requirements are met",
	Long: `pipecheck verifies that the external requirements (interpreters, libraries,
binaries) declared by the steps of a pipeline are satisfiable on this machine
before the pipeline runs.

Each step declares named shell checks, optionally gated by a condition.
Checks run concurrently, identical commands run once, and a live tree shows
the progress until every check resolves.

Examples:
  pipecheck require pipeline.yaml:ExamplePipeline
  pipecheck require --ncores 4 --verbose pipelines.rnaseq:Main -- --Align.envs.threads 8
  pipecheck list pipeline.yaml
  pipecheck doctor`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/pipecheck/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// initRuntime loads configuration and sets up the CLI logger before any
// command runs.
func initRuntime(cmd *cobra.Command, args []string) error {
	config.SetConfigFile(cfgFile)

	cfg, err := config.Load(commandContext(cmd), rootOverrides(cmd))
	if err != nil {
		code := foundry.ExitInvalidArgument
		if cfgFile != "" {
			if _, statErr := os.Stat(cfgFile); statErr != nil {
				code = foundry.ExitFileNotFound
			}
		}
		return exitError(code, "Cannot load configuration", err)
	}

	observability.InitCLILoggerWithLevel(AppName, cfg.Logging.Level, false)
	observability.CLILogger.Debug("Configuration loaded",
		zap.Int("ncores", cfg.NCores),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Strings("search_paths", cfg.SearchPaths),
	)
	return nil
}

func rootOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	return overrides
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Execute runs the root command and exits with the code carried by the
// returned error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ExitWithCode(observability.CLILogger, errwrap.CodeOf(err, foundry.ExitInvalidArgument), err)
	}
}

// ExitWithCode reports err and terminates the process.
func ExitWithCode(logger *zap.Logger, code int, err error) {
	var ee *errwrap.ExitError
	switch {
	case errors.As(err, &ee) && ee.Code == exitUnmet:
		// The tree or JSONL output already explains what failed.
		logger.Debug("Requirements not met", zap.Error(err))
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		logger.Debug("Command failed", zap.Int("exit_code", code), zap.Error(err))
	}
	_ = logger.Sync()
	os.Exit(code)
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return errwrap.New(code, message, err)
}
