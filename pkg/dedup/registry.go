// Package dedup ensures identical check commands run at most once.
//
// The registry maps the exact command text (the check key) to its
// resolution state. The first caller to claim a key becomes its runner;
// every later caller observes the runner's terminal result instead of
// executing the command again.
//
// A Registry is meant to live for the whole process and is injected into
// the check runner, so separate scheduler runs in one process share it.
// Reset clears it between tests.
package dedup

import (
	"context"
	"fmt"
	"sync"
)

// State is the resolution state of a check key.
type State int

const (
	// StateUnscheduled means no caller has claimed the key.
	StateUnscheduled State = iota

	// StateRunning means the claimant has not resolved the key yet.
	StateRunning

	// StateSucceeded means the command exited 0.
	StateSucceeded

	// StateFailed means the command failed; Result.Err holds the text.
	StateFailed
)

// String returns a lower-case name for logging.
func (s State) String() string {
	switch s {
	case StateUnscheduled:
		return "unscheduled"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Result is the terminal outcome of a check key.
type Result struct {
	State State

	// Err is the captured failure text when State is StateFailed.
	Err string
}

type entry struct {
	done   chan struct{}
	result Result
}

// Registry is a concurrency-safe map from check key to resolution state.
//
// The zero value is not usable; create registries with NewRegistry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Ticket is the handle returned by ClaimOrObserve.
//
// Exactly one ticket per key is a claim. The claimant must call Resolve
// once; observers call Wait.
type Ticket struct {
	key     string
	claimed bool
	entry   *entry
	reg     *Registry
	once    sync.Once
}

// Key returns the check key the ticket refers to.
func (t *Ticket) Key() string {
	return t.key
}

// Claimed reports whether this caller owns the key and must run the check.
func (t *Ticket) Claimed() bool {
	return t.claimed
}

// Resolve publishes the claimant's terminal result and wakes all observers.
//
// Resolve panics when called on an observer ticket or with a non-terminal
// state; later calls on the same ticket are ignored.
func (t *Ticket) Resolve(res Result) {
	if !t.claimed {
		panic("dedup: Resolve called on an observer ticket")
	}
	if !res.State.Terminal() {
		panic(fmt.Sprintf("dedup: Resolve called with non-terminal state %s", res.State))
	}
	t.once.Do(func() {
		t.reg.mu.Lock()
		t.entry.result = res
		t.reg.mu.Unlock()
		close(t.entry.done)
	})
}

// Wait blocks until the key is resolved or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.entry.done:
		t.reg.mu.Lock()
		defer t.reg.mu.Unlock()
		return t.entry.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ClaimOrObserve atomically claims key if nobody has, or returns an
// observer ticket for the existing claim.
func (r *Registry) ClaimOrObserve(key string) *Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return &Ticket{key: key, entry: e, reg: r}
	}

	e := &entry{
		done:   make(chan struct{}),
		result: Result{State: StateRunning},
	}
	r.entries[key] = e
	return &Ticket{key: key, claimed: true, entry: e, reg: r}
}

// Lookup returns the current state of key without claiming it.
func (r *Registry) Lookup(key string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Result{State: StateUnscheduled}
	}
	return e.result
}

// Len returns the number of keys ever claimed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset forgets every key. Outstanding tickets keep working against their
// own entries.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}
