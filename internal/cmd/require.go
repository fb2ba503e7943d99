package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/pipecheck/internal/config"
	"github.com/3leaps/pipecheck/internal/observability"
	"github.com/3leaps/pipecheck/pkg/checkrun"
	"github.com/3leaps/pipecheck/pkg/dedup"
	"github.com/3leaps/pipecheck/pkg/extract"
	"github.com/3leaps/pipecheck/pkg/output"
	"github.com/3leaps/pipecheck/pkg/pipeline"
	"github.com/3leaps/pipecheck/pkg/progress"
	"github.com/3leaps/pipecheck/pkg/requirement"
	"github.com/3leaps/pipecheck/pkg/scheduler"
)

var requireCmd = &cobra.Command{
	Use:   "require [flags] <pipeline> [-- pipeline-args...]",
	Short: "Check the requirements of a pipeline's steps",
	Long: `Check the requirements declared by the steps of a pipeline.

The pipeline is given as <manifest>:<pipeline>, where <manifest> is either a
path to a YAML/JSON manifest or a dotted module name searched as
module/sub.{yaml,yml,json} under the configured search paths.

Arguments after -- are passed to the pipeline before requirements are
extracted, so step attributes used in checks can be overridden:
  --<Step>.lang <value>         step interpreter
  --<Step>.envs.<name> <value>  step variable
  --<option> <value>            pipeline option
Arguments starting with + are plugin hooks and are ignored.

The exit code is 0 when every requirement is met or skipped, and 1 when any
requirement failed.

Examples:
  pipecheck require pipeline.yaml:ExamplePipeline
  pipecheck require --ncores 4 --verbose -p pipelines.rnaseq:Main
  pipecheck require pipeline.yaml:Main -- --P1.envs.require_gpu true
  pipecheck require --output jsonl pipeline.yaml:Main | jq .
  pipecheck require --dry-run --steps 'Align*' pipeline.yaml:Main
  pipecheck require --skip-steps 'Report*' pipeline.yaml:Main`,
	Args: validateRequireArgs,
	RunE: runRequire,
}

var (
	requirePipeline string
	requireNCores   int
	requireVerbose  bool
	requireSteps    []string
	requireSkip     []string
	requireRate     float64
	requireOutput   string
	requireDryRun   bool
)

func init() {
	rootCmd.AddCommand(requireCmd)

	requireCmd.Flags().StringVarP(&requirePipeline, "pipeline", "p", "", "Pipeline locator (alternative to the positional argument)")
	requireCmd.Flags().IntVarP(&requireNCores, "ncores", "n", 1, "Number of checks to run at once")
	requireCmd.Flags().BoolVar(&requireVerbose, "verbose", false, "Show the error output of failed checks")
	requireCmd.Flags().StringSliceVar(&requireSteps, "steps", nil, "Only check steps matching these glob patterns")
	requireCmd.Flags().StringSliceVar(&requireSkip, "skip-steps", nil, "Do not check steps matching these glob patterns")
	requireCmd.Flags().Float64Var(&requireRate, "rate", 0, "Maximum check launches per second (0 = unlimited)")
	requireCmd.Flags().StringVarP(&requireOutput, "output", "o", config.FormatTree, "Output format (tree|jsonl)")
	requireCmd.Flags().BoolVar(&requireDryRun, "dry-run", false, "Print the extracted requirements without running them")
}

// splitRequireArgs separates the locator from pipeline arguments.
func splitRequireArgs(cmd *cobra.Command, args []string) (string, []string, error) {
	positional, passthrough := args, []string(nil)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		positional, passthrough = args[:dash], args[dash:]
	}

	locator := requirePipeline
	switch {
	case locator != "" && len(positional) > 0:
		return "", nil, fmt.Errorf("pipeline given both as --pipeline and as argument %q", positional[0])
	case locator == "" && len(positional) == 0:
		return "", nil, errors.New("a pipeline is required, e.g. pipeline.yaml:ExamplePipeline")
	case len(positional) > 1:
		return "", nil, fmt.Errorf("unexpected arguments %q; pass pipeline arguments after --", positional[1:])
	case locator == "":
		locator = positional[0]
	}
	return locator, passthrough, nil
}

func validateRequireArgs(cmd *cobra.Command, args []string) error {
	_, _, err := splitRequireArgs(cmd, args)
	return err
}

func requireOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("ncores") {
		overrides["ncores"] = requireNCores
	}
	if cmd.Flags().Changed("rate") {
		overrides["rate_limit"] = requireRate
	}
	if cmd.Flags().Changed("output") {
		overrides["output"] = map[string]any{"format": requireOutput}
	}
	return overrides
}

func runRequire(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	logger := observability.CLILogger
	out := cmd.OutOrStdout()

	locator, pipelineArgs, err := splitRequireArgs(cmd, args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}

	cfg, err := config.Load(ctx, rootOverrides(cmd), requireOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	runID := uuid.New().String()
	fail := func(code, name, message string, err error) error {
		if cfg.Output.Format == config.FormatJSONL {
			writeErrorRecord(ctx, out, runID, name, code, err)
		}
		status := foundry.ExitInvalidArgument
		if errors.Is(err, pipeline.ErrManifestNotFound) {
			status = foundry.ExitFileNotFound
		}
		return exitError(status, message, err)
	}

	p, err := pipeline.Resolve(locator, pipeline.ResolveOptions{SearchPaths: cfg.SearchPaths})
	if err != nil {
		logger.Debug("Cannot resolve pipeline", zap.String("locator", locator), zap.Error(err))
		return fail(output.ErrCodeLocator, "", "Cannot resolve pipeline", err)
	}
	if err := pipeline.ApplyArgs(p, pipelineArgs); err != nil {
		return fail(output.ErrCodeArgs, p.Name, "Invalid pipeline arguments", err)
	}
	if err := pipeline.FilterSteps(p, requireSteps, requireSkip); err != nil {
		return fail(output.ErrCodeArgs, p.Name, "Invalid step pattern", err)
	}

	steps, err := extract.New(logger).Extract(p)
	if err != nil {
		return fail(output.ErrCodeFormat, p.Name, "Malformed requirements", err)
	}

	logger.Debug("Checking requirements",
		zap.String("run_id", runID),
		zap.String("pipeline", p.Name),
		zap.String("source", p.Source),
		zap.Int("steps", len(steps)),
	)

	if requireDryRun {
		return writePlan(ctx, out, cfg, runID, p, steps)
	}

	runner := checkrun.New(dedup.NewRegistry(), checkrun.Config{
		Shell:     cfg.Shell,
		RateLimit: cfg.RateLimit,
	}, logger)
	sched := scheduler.New(runner, scheduler.Config{Concurrency: cfg.NCores}, logger)
	defer func() { _ = sched.Close() }()

	start := time.Now()
	sched.Start(ctx, steps)

	var snap requirement.Snapshot
	if cfg.Output.Format == config.FormatJSONL {
		snap, err = runJSONL(ctx, out, runID, p.Name, sched, steps, start)
	} else {
		snap, err = runTree(ctx, out, cfg, p.Name, sched, steps)
	}
	if err != nil {
		return err
	}

	if snap.Failed() {
		failed := snap.Counts()[requirement.StatusError]
		return exitError(exitUnmet, "Requirements not met", fmt.Errorf("%d requirement(s) failed", failed))
	}
	return nil
}

func runTree(ctx context.Context, out io.Writer, cfg *config.Config, name string, sched *scheduler.Scheduler, steps []requirement.StepRequirements) (requirement.Snapshot, error) {
	interactive := progress.IsTerminal(out)
	opts := progress.Options{
		Verbose:     requireVerbose,
		Interval:    cfg.PollInterval,
		Interactive: interactive,
	}
	if interactive {
		opts.Width = progress.TerminalWidth(out)
	}
	rep := progress.New(out, name, steps, opts)

	_, _ = fmt.Fprintln(out)
	snap, err := rep.Run(ctx, sched)
	if err == nil {
		return snap, nil
	}

	// Interrupted: settle the scheduler so the last tree is terminal.
	_ = sched.Close()
	rep.Draw(sched.Snapshot())
	return snap, exitError(foundry.ExitSignalInt, "Requirement check cancelled", err)
}

func runJSONL(ctx context.Context, out io.Writer, runID, name string, sched *scheduler.Scheduler, steps []requirement.StepRequirements, start time.Time) (requirement.Snapshot, error) {
	w := output.NewJSONLWriter(out, runID, name)
	defer func() { _ = w.Close() }()

	waitErr := sched.Wait(ctx)
	if waitErr != nil {
		_ = sched.Close()
	}
	snap := sched.Snapshot()

	// Records are written even when interrupted, so use a fresh context.
	writeCtx := context.WithoutCancel(ctx)
	if err := output.WriteResults(writeCtx, w, steps, snap, time.Since(start)); err != nil {
		return snap, exitError(foundry.ExitFileWriteError, "Cannot write results", err)
	}
	if waitErr != nil {
		_ = w.WriteError(writeCtx, &output.ErrorRecord{
			Code:    output.ErrCodeInterrupted,
			Message: waitErr.Error(),
		})
		return snap, exitError(foundry.ExitSignalInt, "Requirement check cancelled", waitErr)
	}
	return snap, nil
}

func writePlan(ctx context.Context, out io.Writer, cfg *config.Config, runID string, p *pipeline.Pipeline, steps []requirement.StepRequirements) error {
	if cfg.Output.Format == config.FormatJSONL {
		w := output.NewJSONLWriter(out, runID, p.Name)
		defer func() { _ = w.Close() }()
		if err := output.WritePlan(ctx, w, steps); err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot write plan", err)
		}
		return nil
	}
	_, err := fmt.Fprintln(out, progress.RenderPlan(p.Name, steps))
	return err
}

// writeErrorRecord reports a failure before any check ran as a single
// JSONL error record.
func writeErrorRecord(ctx context.Context, out io.Writer, runID, name, code string, err error) {
	rec := &output.ErrorRecord{Code: code, Message: err.Error()}
	var fe *extract.FormatError
	if errors.As(err, &fe) {
		rec.Step = fe.Step
		details := map[string]any{"reason": fe.Reason}
		if fe.Entry >= 0 {
			details["entry"] = fe.Entry
		}
		rec.Details = details
	}
	w := output.NewJSONLWriter(out, runID, name)
	_ = w.WriteError(context.WithoutCancel(ctx), rec)
	_ = w.Close()
}
