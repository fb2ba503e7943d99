// Package match selects pipeline steps by name with doublestar glob
// patterns.
package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against step names.
//
//   - Include patterns: a name must match at least one. No includes
//     selects every name.
//   - Exclude patterns: a name must not match any.
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes []string
	excludes []string
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a step name must match (at least one).
	Includes []string

	// Excludes are glob patterns a step name must not match (any).
	Excludes []string
}

// ErrInvalidPattern is returned when a pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher, rejecting any pattern doublestar cannot compile.
func New(cfg Config) (*Matcher, error) {
	for _, list := range [][]string{cfg.Includes, cfg.Excludes} {
		for _, raw := range list {
			if !doublestar.ValidatePattern(raw) {
				return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
			}
		}
	}
	return &Matcher{
		includes: append([]string(nil), cfg.Includes...),
		excludes: append([]string(nil), cfg.Excludes...),
	}, nil
}

// Match reports whether name is selected.
func (m *Matcher) Match(name string) bool {
	if len(m.includes) > 0 && !matchAny(m.includes, name) {
		return false
	}
	return !matchAny(m.excludes, name)
}

// Empty reports whether the matcher selects every name.
func (m *Matcher) Empty() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		// Patterns were validated in New.
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
