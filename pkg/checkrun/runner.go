// Package checkrun executes a single requirement check.
//
// A check is a shell command gated by a condition string. The runner
// consults the deduplication registry so that byte-identical commands run
// once per registry, no matter how many steps declare them.
package checkrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/pipecheck/pkg/dedup"
)

// DefaultShell is the command prefix used to run checks.
var DefaultShell = []string{"/usr/bin/env", "bash", "-c"}

const waitDelay = 2 * time.Second

// Kind classifies an Outcome.
type Kind int

const (
	// Success means the command exited 0 (here or in a duplicate).
	Success Kind = iota

	// Failure means the command failed (here or in a duplicate).
	Failure

	// ConditionSkipped means the condition was false; nothing ran.
	ConditionSkipped
)

// String returns a lower-case name for logging and JSON output.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case ConditionSkipped:
		return "condition_skipped"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of Runner.Run.
type Outcome struct {
	Kind Kind

	// Stderr is the failure text. For a deduplicated failure it is the
	// claimant's text, byte for byte.
	Stderr string

	// Deduplicated is true when the result came from another caller's run.
	Deduplicated bool

	// ExitCode is the command's exit code when this call ran it, else -1.
	ExitCode int

	// Duration is the wall time of this call, including any wait.
	Duration time.Duration
}

// Failed reports whether the outcome should count as a task failure.
func (o Outcome) Failed() bool {
	return o.Kind == Failure
}

// Slots bounds how many commands execute at once.
// *semaphore.Weighted from golang.org/x/sync satisfies it.
type Slots interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// Request describes one check invocation.
type Request struct {
	// Condition gates execution; see ConditionHolds.
	Condition string

	// Command is the shell command and the deduplication key.
	Command string

	// Slots, when set, is held only while this call executes the command.
	// Callers waiting on a duplicate do not hold a slot.
	Slots Slots

	// OnStart, when set, is called once the check holds a slot and is about
	// to execute, or once it starts waiting on a duplicate. It is not called
	// for skipped checks or checks cancelled while queued.
	OnStart func()
}

// Config configures a Runner.
type Config struct {
	// Shell is the command prefix; the check text is appended as the last
	// argument. Default: DefaultShell.
	Shell []string

	// RateLimit caps command launches per second. Zero means unlimited.
	RateLimit float64

	// Env, when non-nil, replaces the environment of check commands.
	Env []string
}

// Runner executes checks against a shared registry.
//
// Runner is safe for concurrent use.
type Runner struct {
	registry *dedup.Registry
	shell    []string
	env      []string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// New creates a runner. A nil registry gets a private one; a nil logger
// is replaced by a no-op logger.
func New(registry *dedup.Registry, cfg Config, logger *zap.Logger) *Runner {
	if registry == nil {
		registry = dedup.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	shell := cfg.Shell
	if len(shell) == 0 {
		shell = DefaultShell
	}

	r := &Runner{
		registry: registry,
		shell:    append([]string(nil), shell...),
		env:      cfg.Env,
		logger:   logger,
	}
	if cfg.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return r
}

// Registry returns the registry the runner deduplicates against.
func (r *Runner) Registry() *dedup.Registry {
	return r.registry
}

// ConditionHolds reports whether a rendered condition enables a check.
// Only "true" and "1" (case-insensitive, surrounding space ignored) do.
func ConditionHolds(condition string) bool {
	switch strings.ToLower(strings.TrimSpace(condition)) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// Run evaluates the condition and, when it holds, resolves the command
// through the registry: the first caller executes it, later callers with
// the same command text receive the first caller's result.
func (r *Runner) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()

	if !ConditionHolds(req.Condition) {
		return Outcome{Kind: ConditionSkipped, ExitCode: -1}
	}

	ticket := r.registry.ClaimOrObserve(req.Command)
	if !ticket.Claimed() {
		if req.OnStart != nil {
			req.OnStart()
		}
		r.logger.Debug("Waiting on duplicate check", zap.String("check", req.Command))
		res, err := ticket.Wait(ctx)
		if err != nil {
			return Outcome{
				Kind:     Failure,
				Stderr:   fmt.Sprintf("check cancelled while waiting on duplicate: %v", err),
				ExitCode: -1,
				Duration: time.Since(start),
			}
		}
		out := fromResult(res)
		out.Deduplicated = true
		out.Duration = time.Since(start)
		return out
	}

	res, exitCode := r.execute(ctx, req)
	ticket.Resolve(res)

	out := fromResult(res)
	out.ExitCode = exitCode
	out.Duration = time.Since(start)
	return out
}

// execute runs the claimed command and returns its terminal result.
func (r *Runner) execute(ctx context.Context, req Request) (dedup.Result, int) {
	if req.Slots != nil {
		if err := req.Slots.Acquire(ctx, 1); err != nil {
			return dedup.Result{State: dedup.StateFailed, Err: fmt.Sprintf("check cancelled before start: %v", err)}, -1
		}
		defer req.Slots.Release(1)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return dedup.Result{State: dedup.StateFailed, Err: fmt.Sprintf("check cancelled before start: %v", err)}, -1
		}
	}

	if req.OnStart != nil {
		req.OnStart()
	}

	args := append(append([]string(nil), r.shell[1:]...), req.Command)
	cmd := exec.CommandContext(ctx, r.shell[0], args...)
	if r.env != nil {
		cmd.Env = r.env
	}
	// Background grandchildren may keep the output pipes open after a kill.
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.Debug("Check finished",
		zap.String("check", req.Command),
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", time.Since(started)))

	if err == nil {
		return dedup.Result{State: dedup.StateSucceeded}, exitCode
	}

	text := stderr.String()
	if strings.TrimSpace(text) == "" {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			text = fmt.Sprintf("command exited with status %d", exitErr.ExitCode())
		} else {
			text = err.Error()
		}
	}
	if ctx.Err() != nil {
		text = fmt.Sprintf("check cancelled: %v\n%s", ctx.Err(), text)
	}
	return dedup.Result{State: dedup.StateFailed, Err: text}, exitCode
}

func fromResult(res dedup.Result) Outcome {
	if res.State == dedup.StateSucceeded {
		return Outcome{Kind: Success, ExitCode: -1}
	}
	return Outcome{Kind: Failure, Stderr: res.Err, ExitCode: -1}
}
