// Package extract turns a resolved pipeline's raw requirement declarations
// into ordered, rendered requirements per step.
//
// Each declaration is a list of entries:
//
//	requires:
//	  - name: pipen
//	    message: Run `pip install -U pipen` to install
//	    if: ${proc.envs.check_pipen}
//	    check: ${proc.lang} -c "import pipen"
//
// name, message, if and check are HCL templates evaluated with the
// variables proc (name, summary, lang, envs, pipeline) and envs. A step
// that declares nothing inherits the declarations of the nearest step it
// extends that does.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"
	"go.uber.org/zap"

	schemasassets "github.com/3leaps/pipecheck/internal/assets/schemas"
	"github.com/3leaps/pipecheck/pkg/pipeline"
	"github.com/3leaps/pipecheck/pkg/requirement"
)

// ErrFormat is the sentinel for malformed requirement declarations.
var ErrFormat = errors.New("malformed requirement declaration")

// FormatError reports a malformed declaration on one step.
type FormatError struct {
	// Step is the step whose declaration is malformed.
	Step string

	// Entry is the 0-based entry index, or -1 for the declaration as a whole.
	Entry int

	// Reason is a human-readable explanation.
	Reason string

	// Err is the underlying cause (template diagnostics, etc.). May be nil.
	Err error
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "malformed requirements for step %s", e.Step)
	if e.Entry >= 0 {
		fmt.Fprintf(&b, " (entry %d)", e.Entry+1)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is makes every FormatError match ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// IsFormatError returns true if err is a malformed declaration.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrFormat)
}

var allowedKeys = map[string]bool{
	"name":    true,
	"message": true,
	"check":   true,
	"if":      true,
}

// Extractor renders requirement declarations.
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract renders every step of p in pipeline order. The first malformed
// step aborts extraction.
func (e *Extractor) Extract(p *pipeline.Pipeline) ([]requirement.StepRequirements, error) {
	out := make([]requirement.StepRequirements, 0, len(p.Steps))
	for _, s := range p.Steps {
		sr, err := e.Step(p, s)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

// Step renders one step's requirements.
func (e *Extractor) Step(p *pipeline.Pipeline, s *pipeline.Step) (requirement.StepRequirements, error) {
	sr := requirement.StepRequirements{
		Step:    s.Name,
		Summary: firstLine(s.Summary),
	}

	raw, from := declaration(s)
	if from == nil {
		e.logger.Debug("Step declares no requirements", zap.String("step", s.Name))
		return sr, nil
	}
	if from != s {
		e.logger.Debug("Inheriting requirements",
			zap.String("step", s.Name),
			zap.String("from", from.Name),
		)
	}

	entries, err := checkShape(s.Name, raw)
	if err != nil {
		return sr, err
	}

	scope, err := newScope(p, s)
	if err != nil {
		return sr, &FormatError{Step: s.Name, Entry: -1, Reason: "cannot build template variables", Err: err}
	}

	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		req, err := renderEntry(scope, entry)
		if err != nil {
			return sr, &FormatError{Step: s.Name, Entry: i, Reason: "template error", Err: err}
		}
		switch {
		case req.Name == "":
			return sr, &FormatError{Step: s.Name, Entry: i, Reason: "name renders empty"}
		case req.Name == requirement.SummaryName:
			return sr, &FormatError{Step: s.Name, Entry: i, Reason: fmt.Sprintf("%q is reserved", requirement.SummaryName)}
		case req.Check == "":
			return sr, &FormatError{Step: s.Name, Entry: i, Reason: fmt.Sprintf("requirement %q: check renders empty", req.Name)}
		case seen[req.Name]:
			return sr, &FormatError{Step: s.Name, Entry: i, Reason: fmt.Sprintf("duplicate requirement name %q", req.Name)}
		}
		seen[req.Name] = true
		sr.Requirements = append(sr.Requirements, req)
	}

	e.logger.Debug("Extracted requirements",
		zap.String("step", s.Name),
		zap.Int("count", len(sr.Requirements)),
	)
	return sr, nil
}

// declaration walks the extends chain for the nearest declared requirements.
func declaration(s *pipeline.Step) (any, *pipeline.Step) {
	for cur := s; cur != nil; cur = cur.Base {
		if raw, ok := cur.OwnRequires(); ok {
			return raw, cur
		}
	}
	return nil, nil
}

// checkShape validates the raw declaration and returns its entries.
func checkShape(step string, raw any) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, &FormatError{Step: step, Entry: -1, Reason: fmt.Sprintf("requires must be a list of requirements, got %s", describe(raw))}
	}

	entries := make([]map[string]any, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, &FormatError{Step: step, Entry: i, Reason: fmt.Sprintf("requirement must be a mapping, got %s", describe(item))}
		}
		if _, ok := entry["name"]; !ok {
			return nil, &FormatError{Step: step, Entry: i, Reason: "missing required key 'name'"}
		}
		var extra []string
		for k := range entry {
			if !allowedKeys[k] {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, &FormatError{
				Step:   step,
				Entry:  i,
				Reason: fmt.Sprintf("unexpected keys %s (allowed: name, message, check, if)", strings.Join(extra, ", ")),
			}
		}
		if _, ok := entry["check"]; !ok {
			return nil, &FormatError{Step: step, Entry: i, Reason: "missing required key 'check'"}
		}
		entries = append(entries, entry)
	}

	if err := validateSchema(step, list); err != nil {
		return nil, err
	}
	return entries, nil
}

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// validateSchema catches type errors (e.g. a non-string check) the explicit
// shape checks leave alone.
func validateSchema(step string, list []any) error {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator(schemasassets.RequirementsSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile requirements schema: %w", validatorErr)
		}
	})
	if validatorErr != nil {
		return validatorErr
	}

	data, err := json.Marshal(list)
	if err != nil {
		return &FormatError{Step: step, Entry: -1, Reason: "requires is not serializable", Err: err}
	}
	diags, err := validator.ValidateJSON(data)
	if err != nil {
		return fmt.Errorf("requirements schema validation error: %w", err)
	}
	var msgs []string
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", d.Pointer, d.Message))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return &FormatError{Step: step, Entry: -1, Reason: strings.Join(msgs, "; ")}
}

func renderEntry(scope *scope, entry map[string]any) (requirement.Requirement, error) {
	var req requirement.Requirement
	var err error

	if req.Name, err = scope.renderField(entry, "name"); err != nil {
		return req, err
	}
	if req.Message, err = scope.renderField(entry, "message"); err != nil {
		return req, err
	}
	if req.Check, err = scope.renderField(entry, "check"); err != nil {
		return req, err
	}
	if req.Condition, err = scope.renderField(entry, "if"); err != nil {
		return req, err
	}
	return req, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		return strings.TrimSpace(line)
	}
	return s
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "a mapping"
	case []any:
		return "a list"
	case string:
		return "a string"
	default:
		return fmt.Sprintf("%T", v)
	}
}
