// Package scheduler runs the requirement checks of a pipeline with bounded
// concurrency and exposes a poll-until-done progress API.
//
// Start submits one task per (step, requirement) pair. Each task runs on its
// own goroutine; a weighted semaphore sized by Config.Concurrency bounds how
// many shell commands execute at once. Tasks waiting on a duplicate check
// do not hold a slot.
//
// Status transitions:
//
//	pending -> checking       task started (set by the task)
//	pending -> if_skipped     condition false (set by the task)
//	checking -> success       task finished OK (set by Poll)
//	checking -> error         task failed (set by Poll)
//
// error is sticky: once a pair is in error nothing moves it back.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/pipecheck/pkg/checkrun"
	"github.com/3leaps/pipecheck/pkg/requirement"
)

// Config configures a Scheduler.
type Config struct {
	// Concurrency is the number of checks that may execute at once.
	// Default: 1
	Concurrency int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{Concurrency: 1}
}

// task is the retained handle of one submitted check.
type task struct {
	key  string
	req  requirement.Requirement
	done chan struct{}

	// outcome is written once before done is closed.
	outcome checkrun.Outcome

	// observed is set by Poll once the outcome has been applied.
	observed bool
}

// Scheduler runs checks and tracks their status.
//
// A Scheduler is single use: call Start once, then Poll/IsDone/Snapshot
// until done, then Close.
type Scheduler struct {
	runner *checkrun.Runner
	config Config
	logger *zap.Logger
	slots  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	keys     []string
	statuses map[string]requirement.Status
	errors   map[string]string
	tasks    []*task
}

// New creates a scheduler that executes checks through runner.
func New(runner *checkrun.Runner, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		config:   cfg,
		logger:   logger,
		slots:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		statuses: make(map[string]requirement.Status),
		errors:   make(map[string]string),
	}
}

// Start submits the checks of every step, in the given order.
//
// Steps that declared no requirements are marked skipping and submit no
// tasks. Start returns immediately; tasks run in the background until they
// finish or ctx (or Close) cancels them.
func (s *Scheduler) Start(ctx context.Context, steps []requirement.StepRequirements) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		panic("scheduler: Start called twice")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, step := range steps {
		// A step whose only entry is its summary has nothing to check.
		if step.Entries() == 1 {
			s.track(step.Step, requirement.StatusSkipping)
			s.logger.Debug("Step declares no requirements", zap.String("step", step.Step))
			continue
		}

		for _, req := range step.Requirements {
			key := requirement.Key(step.Step, req.Name)
			s.track(key, requirement.StatusPending)

			t := &task{key: key, req: req, done: make(chan struct{})}
			s.tasks = append(s.tasks, t)

			s.wg.Add(1)
			go s.runTask(t)
		}
	}

	s.logger.Debug("Submitted checks",
		zap.Int("steps", len(steps)),
		zap.Int("tasks", len(s.tasks)),
		zap.Int("concurrency", s.config.Concurrency))
}

// track records an initial status. Caller holds s.mu.
func (s *Scheduler) track(key string, st requirement.Status) {
	if _, ok := s.statuses[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.statuses[key] = st
}

func (s *Scheduler) runTask(t *task) {
	defer s.wg.Done()
	defer close(t.done)

	out := s.runner.Run(s.ctx, checkrun.Request{
		Condition: t.req.EffectiveCondition(),
		Command:   t.req.Check,
		Slots:     s.slots,
		OnStart:   func() { s.markChecking(t.key) },
	})
	t.outcome = out

	switch out.Kind {
	case checkrun.ConditionSkipped:
		s.mu.Lock()
		s.statuses[t.key] = requirement.StatusIfSkipped
		s.mu.Unlock()
	case checkrun.Failure:
		s.mu.Lock()
		s.errors[t.key] = out.Stderr
		s.mu.Unlock()
	}

	s.logger.Debug("Check resolved",
		zap.String("key", t.key),
		zap.String("outcome", out.Kind.String()),
		zap.Bool("deduplicated", out.Deduplicated),
		zap.Duration("duration", out.Duration))
}

func (s *Scheduler) markChecking(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[key] == requirement.StatusPending {
		s.statuses[key] = requirement.StatusChecking
	}
}

// Poll applies the outcome of every finished, not yet observed task.
//
// Poll never downgrades a terminal status: a late success cannot overwrite
// error or if_skipped.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.observed {
			continue
		}
		select {
		case <-t.done:
		default:
			continue
		}
		t.observed = true

		current := s.statuses[t.key]
		switch t.outcome.Kind {
		case checkrun.Success:
			if !current.Terminal() {
				s.statuses[t.key] = requirement.StatusSuccess
			}
		case checkrun.Failure:
			if current != requirement.StatusIfSkipped && current != requirement.StatusSkipping {
				s.statuses[t.key] = requirement.StatusError
			}
		case checkrun.ConditionSkipped:
			// Set by the task itself.
		}
	}
}

// IsDone reports whether every tracked status is terminal.
func (s *Scheduler) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the status and error tables.
func (s *Scheduler) Snapshot() requirement.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := requirement.Snapshot{
		Keys:     append([]string(nil), s.keys...),
		Statuses: make(map[string]requirement.Status, len(s.statuses)),
		Errors:   make(map[string]string, len(s.errors)),
	}
	for k, v := range s.statuses {
		snap.Statuses[k] = v
	}
	// Errors are only visible once the pair itself shows error.
	for k, v := range s.errors {
		if s.statuses[k] == requirement.StatusError {
			snap.Errors[k] = v
		}
	}
	return snap
}

// Wait blocks until every task finished or ctx is done, then polls once.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Poll()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding tasks and waits for every task goroutine to
// exit. Close is idempotent and safe to call before Start.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.Poll()
	return nil
}
