// Package requirement defines the data model shared by the extractor,
// scheduler, and progress reporter.
//
// A pipeline step declares zero or more named requirements. Each requirement
// is a shell check gated by an optional condition. The scheduler tracks one
// Status per (step, requirement) pair under the key "step/requirement".
package requirement

import "strings"

// SummaryName is the reserved entry name that carries a step's one-line
// description. It can never be used as a requirement name.
const SummaryName = "SUMMARY"

// DefaultCondition is used when a requirement declares no condition.
const DefaultCondition = "true"

// Requirement is a single named check declared by a step.
//
// Requirements are immutable once extracted.
type Requirement struct {
	// Name is unique within its step.
	Name string `json:"name"`

	// Message is shown instead of the bare name when the check fails. Optional.
	Message string `json:"message,omitempty"`

	// Check is the shell command. Its exact text is the deduplication key.
	Check string `json:"check"`

	// Condition gates whether Check runs at all. Empty means DefaultCondition.
	Condition string `json:"condition,omitempty"`
}

// EffectiveCondition returns Condition, or DefaultCondition when unset.
func (r Requirement) EffectiveCondition() string {
	if r.Condition == "" {
		return DefaultCondition
	}
	return r.Condition
}

// StepRequirements is the ordered extraction result for one step.
type StepRequirements struct {
	// Step is the step name.
	Step string `json:"step"`

	// Summary is the one-line description of the step.
	Summary string `json:"summary"`

	// Requirements in declaration order. Empty means the step declared none
	// and is reported as skipping.
	Requirements []Requirement `json:"requirements"`
}

// Declared reports whether the step declared any requirements.
func (s StepRequirements) Declared() bool {
	return len(s.Requirements) > 0
}

// Entries returns the number of entries in the step's mapping, counting the
// summary sentinel. A step with exactly one entry declared no requirements.
func (s StepRequirements) Entries() int {
	return len(s.Requirements) + 1
}

// Lookup finds a requirement by name.
func (s StepRequirements) Lookup(name string) (Requirement, bool) {
	for _, r := range s.Requirements {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}

// Key builds the status key for a (step, requirement) pair.
func Key(step, name string) string {
	return step + "/" + name
}

// SplitKey splits a status key into step and requirement name. For a
// step-level key (no separator) name is empty.
func SplitKey(key string) (step, name string) {
	step, name, _ = strings.Cut(key, "/")
	return step, name
}
