package checkrun

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/pipecheck/pkg/dedup"
)

func TestConditionHolds(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"True", true},
		{"1", true},
		{" true\n", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"yes", false},
		{"truthy", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, ConditionHolds(tt.input))
		})
	}
}

func TestRun_Success(t *testing.T) {
	r := New(dedup.NewRegistry(), Config{}, nil)

	out := r.Run(context.Background(), Request{Condition: "true", Command: "pwd"})
	assert.Equal(t, Success, out.Kind)
	assert.False(t, out.Failed())
	assert.False(t, out.Deduplicated)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, dedup.StateSucceeded, r.Registry().Lookup("pwd").State)
}

func TestRun_FailureCapturesStderr(t *testing.T) {
	r := New(dedup.NewRegistry(), Config{}, nil)

	out := r.Run(context.Background(), Request{Condition: "1", Command: "echo 'No module named nonexist' >&2; exit 3"})
	assert.Equal(t, Failure, out.Kind)
	assert.True(t, out.Failed())
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Stderr, "No module named nonexist")

	res := r.Registry().Lookup("echo 'No module named nonexist' >&2; exit 3")
	assert.Equal(t, dedup.StateFailed, res.State)
	assert.Equal(t, out.Stderr, res.Err)
}

func TestRun_FailureWithoutStderr(t *testing.T) {
	r := New(dedup.NewRegistry(), Config{}, nil)

	out := r.Run(context.Background(), Request{Condition: "true", Command: "exit 2"})
	assert.Equal(t, Failure, out.Kind)
	assert.Equal(t, "command exited with status 2", out.Stderr)
}

func TestRun_ConditionFalseNeverExecutes(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	r := New(dedup.NewRegistry(), Config{}, nil)

	started := false
	cmd := fmt.Sprintf("touch %q", marker)
	out := r.Run(context.Background(), Request{
		Condition: "false",
		Command:   cmd,
		OnStart:   func() { started = true },
	})

	assert.Equal(t, ConditionSkipped, out.Kind)
	assert.False(t, out.Failed())
	assert.False(t, started)
	assert.NoFileExists(t, marker)
	assert.Equal(t, dedup.StateUnscheduled, r.Registry().Lookup(cmd).State)
}

func TestRun_DuplicateExecutesOnce(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "count")
	cmd := fmt.Sprintf("sleep 0.1; echo x >> %q", counter)
	r := New(dedup.NewRegistry(), Config{}, nil)

	const callers = 8
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = r.Run(context.Background(), Request{Condition: "true", Command: cmd})
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "x"))

	deduped := 0
	for _, out := range outcomes {
		assert.Equal(t, Success, out.Kind)
		if out.Deduplicated {
			deduped++
		}
	}
	assert.Equal(t, callers-1, deduped)
}

func TestRun_DuplicateInheritsFailureText(t *testing.T) {
	reg := dedup.NewRegistry()
	r := New(reg, Config{}, nil)
	cmd := "echo 'No such package' >&2; false"

	first := r.Run(context.Background(), Request{Condition: "true", Command: cmd})
	second := r.Run(context.Background(), Request{Condition: "true", Command: cmd})

	assert.Equal(t, Failure, first.Kind)
	assert.Equal(t, Failure, second.Kind)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Stderr, second.Stderr)
}

func TestRun_PrepopulatedRegistry(t *testing.T) {
	reg := dedup.NewRegistry()
	reg.ClaimOrObserve("pwd").Resolve(dedup.Result{State: dedup.StateFailed, Err: "forced"})
	r := New(reg, Config{}, nil)

	out := r.Run(context.Background(), Request{Condition: "true", Command: "pwd"})
	assert.Equal(t, Failure, out.Kind)
	assert.Equal(t, "forced", out.Stderr)

	reg.Reset()
	reg.ClaimOrObserve("pwd").Resolve(dedup.Result{State: dedup.StateSucceeded})
	out = r.Run(context.Background(), Request{Condition: "true", Command: "pwd"})
	assert.Equal(t, Success, out.Kind)
	assert.True(t, out.Deduplicated)
}

func TestRun_SlotsBoundExecution(t *testing.T) {
	dir := t.TempDir()
	r := New(dedup.NewRegistry(), Config{}, nil)
	slots := semaphore.NewWeighted(1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each command fails if another command's marker is present.
			cmd := fmt.Sprintf(`d=%q; if ls "$d"/running.* >/dev/null 2>&1; then exit 9; fi; touch "$d/running.%d"; sleep 0.05; rm "$d/running.%d"`, dir, i, i)
			out := r.Run(context.Background(), Request{Condition: "true", Command: cmd, Slots: slots})
			assert.Equal(t, Success, out.Kind, out.Stderr)
		}(i)
	}
	wg.Wait()
}

func TestRun_CancelledBeforeSlot(t *testing.T) {
	reg := dedup.NewRegistry()
	r := New(reg, Config{}, nil)
	slots := semaphore.NewWeighted(1)
	require.NoError(t, slots.Acquire(context.Background(), 1))
	defer slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := r.Run(ctx, Request{Condition: "true", Command: "true", Slots: slots})
	assert.Equal(t, Failure, out.Kind)
	assert.Contains(t, out.Stderr, "cancelled")
	// The key is resolved so later observers never hang.
	assert.Equal(t, dedup.StateFailed, reg.Lookup("true").State)
}

func TestRun_OnStartWaitsForSlot(t *testing.T) {
	r := New(dedup.NewRegistry(), Config{}, nil)
	slots := semaphore.NewWeighted(1)
	require.NoError(t, slots.Acquire(context.Background(), 1))

	var mu sync.Mutex
	started := false
	done := make(chan Outcome, 1)
	go func() {
		done <- r.Run(context.Background(), Request{
			Condition: "true",
			Command:   "true",
			Slots:     slots,
			OnStart: func() {
				mu.Lock()
				started = true
				mu.Unlock()
			},
		})
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.False(t, started, "OnStart called while queued for a slot")
	mu.Unlock()

	slots.Release(1)
	out := <-done
	assert.Equal(t, Success, out.Kind)
	mu.Lock()
	assert.True(t, started)
	mu.Unlock()
}

func TestRun_OnStartSkippedWhenCancelledBeforeSlot(t *testing.T) {
	r := New(dedup.NewRegistry(), Config{}, nil)
	slots := semaphore.NewWeighted(1)
	require.NoError(t, slots.Acquire(context.Background(), 1))
	defer slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	out := r.Run(ctx, Request{Condition: "true", Command: "true", Slots: slots, OnStart: func() { called = true }})
	assert.Equal(t, Failure, out.Kind)
	assert.False(t, called)
}

func TestRun_CustomShell(t *testing.T) {
	r := New(nil, Config{Shell: []string{"/bin/sh", "-c"}}, nil)
	out := r.Run(context.Background(), Request{Condition: "true", Command: "test -n \"$0\""})
	assert.Equal(t, Success, out.Kind, out.Stderr)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "failure", Failure.String())
	assert.Equal(t, "condition_skipped", ConditionSkipped.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
