// Package output provides JSONL output for requirement check results.
//
// Output is structured as typed record envelopes containing per-requirement
// results, skipped steps, errors, and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/pipecheck/pkg/requirement"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: pipecheck.<type>.v<version>
const (
	// TypeRequirement identifies per-requirement result records.
	TypeRequirement = "pipecheck.requirement.v1"

	// TypeStep identifies records for steps that declared no requirements.
	TypeStep = "pipecheck.step.v1"

	// TypePlan identifies dry-run plan records.
	TypePlan = "pipecheck.plan.v1"

	// TypeError identifies error records.
	TypeError = "pipecheck.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "pipecheck.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "pipecheck.requirement.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this check run.
	RunID string `json:"run_id"`

	// Pipeline is the name of the pipeline being checked.
	Pipeline string `json:"pipeline"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RequirementRecord is the data payload for one requirement's result.
type RequirementRecord struct {
	// Step is the step that declared the requirement.
	Step string `json:"step"`

	// Name is the requirement name, unique within its step.
	Name string `json:"name"`

	// Status is the final (or last observed) status.
	Status requirement.Status `json:"status"`

	// Message is the declared hint shown on failure.
	Message string `json:"message,omitempty"`

	// Check is the rendered shell command.
	Check string `json:"check"`

	// Condition is the rendered condition, if one was declared.
	Condition string `json:"condition,omitempty"`

	// Error is the captured failure text. Only set for status "error".
	Error string `json:"error,omitempty"`
}

// StepRecord is the data payload for a step that declared no requirements.
type StepRecord struct {
	// Step is the step name.
	Step string `json:"step"`

	// Summary is the step's one-line description.
	Summary string `json:"summary,omitempty"`

	// Status is always "skipping".
	Status requirement.Status `json:"status"`
}

// PlanRecord is the data payload for one step in a dry-run plan.
type PlanRecord struct {
	// Step is the step name.
	Step string `json:"step"`

	// Summary is the step's one-line description.
	Summary string `json:"summary,omitempty"`

	// Requirements are the rendered requirements, in declaration order.
	Requirements []requirement.Requirement `json:"requirements"`
}

// ErrorRecord is the data payload for errors that abort a run.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Step is the step related to this error, if applicable.
	Step string `json:"step,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeLocator indicates the pipeline locator could not be resolved.
	ErrCodeLocator = "LOCATOR"

	// ErrCodeArgs indicates malformed pass-through pipeline arguments.
	ErrCodeArgs = "ARGS"

	// ErrCodeFormat indicates a malformed requirement declaration.
	ErrCodeFormat = "EXTRACTION_FORMAT"

	// ErrCodeInterrupted indicates the run was cancelled before completion.
	ErrCodeInterrupted = "INTERRUPTED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate counts.
type SummaryRecord struct {
	// Steps is the number of steps checked.
	Steps int `json:"steps"`

	// Requirements is the number of requirements tracked.
	Requirements int `json:"requirements"`

	// Success is the number of requirements whose check passed.
	Success int `json:"success"`

	// Failed is the number of requirements in status "error".
	Failed int `json:"failed"`

	// IfSkipped is the number of requirements whose condition was false.
	IfSkipped int `json:"if_skipped"`

	// StepsSkipped is the number of steps that declared no requirements.
	StepsSkipped int `json:"steps_skipped"`

	// Unfinished counts requirements still pending or checking (only
	// non-zero for an interrupted run).
	Unfinished int `json:"unfinished,omitempty"`

	// Passed is true when no requirement failed and the run completed.
	Passed bool `json:"passed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
