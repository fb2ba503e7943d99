package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pipecheck/internal/config"
	"github.com/3leaps/pipecheck/internal/observability"
	"github.com/3leaps/pipecheck/pkg/checkrun"
	"github.com/3leaps/pipecheck/pkg/dedup"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

The shell check runs a trivial command through the configured shell prefix,
the same way requirement checks are run.

Examples:
  pipecheck doctor
  PIPECHECK_SHELL=/bin/sh,-c pipecheck doctor`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorResult is the outcome of one diagnostic check.
type doctorResult struct {
	Name   string
	OK     bool
	Detail string
	Fields []zap.Field
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := observability.CLILogger
	bannerName := AppName + " doctor"

	logger.Info("=== " + bannerName + " ===")
	logger.Info("")
	logger.Info("Running diagnostic checks...")
	logger.Info("")

	cfg := config.GetConfig()
	if cfg == nil {
		var err error
		if cfg, err = config.Load(commandContext(cmd)); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot load configuration", err)
		}
	}

	results := doctorChecks(commandContext(cmd), cfg, logger)
	allChecks := true
	for i, r := range results {
		if r.OK {
			logger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", i+1, len(results), r.Name, r.Detail), r.Fields...)
			continue
		}
		allChecks = false
		logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", i+1, len(results), r.Name, r.Detail), r.Fields...)
	}

	logger.Info("")
	if allChecks {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", AppName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("")
	logger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%s found problems", bannerName))
	}
	return nil
}

func doctorChecks(ctx context.Context, cfg *config.Config, logger *zap.Logger) []doctorResult {
	results := make([]doctorResult, 0, 6)

	goVersion := runtime.Version()
	results = append(results, doctorResult{
		Name:   "Go version",
		OK:     true,
		Detail: goVersion,
		Fields: []zap.Field{zap.String("go_version", goVersion)},
	})

	version := crucible.GetVersion()
	results = append(results, versionResult("Crucible access", version.Crucible, "crucible_version"))
	results = append(results, versionResult("Gofulmen access", version.Gofulmen, "gofulmen_version"))

	if configDir, err := os.UserConfigDir(); err != nil {
		results = append(results, doctorResult{
			Name:   "config directory",
			Detail: "Cannot find config directory",
			Fields: []zap.Field{zap.Error(err)},
		})
	} else {
		results = append(results, doctorResult{
			Name:   "config directory",
			OK:     true,
			Detail: configDir,
			Fields: []zap.Field{zap.String("config_dir", configDir)},
		})
	}

	results = append(results, doctorResult{
		Name:   "environment",
		OK:     true,
		Detail: runtime.GOOS + "/" + runtime.GOARCH,
		Fields: []zap.Field{zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH)},
	})

	results = append(results, shellResult(ctx, cfg.Shell, logger))
	return results
}

func versionResult(name, version, field string) doctorResult {
	if version == "" {
		return doctorResult{Name: name, Detail: "Cannot access " + strings.TrimSuffix(name, " access")}
	}
	return doctorResult{
		Name:   name,
		OK:     true,
		Detail: "v" + version,
		Fields: []zap.Field{zap.String(field, version)},
	}
}

// shellResult runs a no-op check through the configured shell.
func shellResult(ctx context.Context, shell []string, logger *zap.Logger) doctorResult {
	runner := checkrun.New(dedup.NewRegistry(), checkrun.Config{Shell: shell}, logger)
	out := runner.Run(ctx, checkrun.Request{Condition: "true", Command: "true"})

	prefix := strings.Join(shell, " ")
	if out.Failed() {
		detail := "Cannot run checks with " + prefix
		if msg := strings.TrimSpace(out.Stderr); msg != "" {
			detail += ": " + msg
		}
		return doctorResult{
			Name:   "shell",
			Detail: detail,
			Fields: []zap.Field{zap.Strings("shell", shell), zap.Int("exit_code", out.ExitCode)},
		}
	}
	return doctorResult{
		Name:   "shell",
		OK:     true,
		Detail: prefix,
		Fields: []zap.Field{zap.Strings("shell", shell), zap.Duration("duration", out.Duration)},
	}
}
