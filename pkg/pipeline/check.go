package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/pipecheck/internal/assets/schemas"
)

// ErrInvalidManifest is matched by every *ManifestError.
var ErrInvalidManifest = errors.New("invalid manifest")

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *schema.Validator
	manifestSchemaErr  error
)

// Problem is one reason a manifest cannot be used. Pointer locates the
// offending field, e.g. "/steps/0/extends".
type Problem struct {
	Pointer string
	Message string
}

func (p Problem) String() string {
	if p.Pointer == "" {
		return p.Message
	}
	return p.Pointer + ": " + p.Message
}

// ManifestError lists every problem found in one manifest.
type ManifestError struct {
	Path     string
	Problems []Problem
}

func (e *ManifestError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("manifest %s: %s", e.Path, e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "manifest %s has %d problems:", e.Path, len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.String())
	}
	return b.String()
}

func (e *ManifestError) Unwrap() error {
	return ErrInvalidManifest
}

// manifestCheck collects problems across the shape and reference passes
// so one error reports all of them.
type manifestCheck struct {
	path     string
	problems []Problem
}

func (c *manifestCheck) add(pointer, format string, args ...any) {
	c.problems = append(c.problems, Problem{Pointer: pointer, Message: fmt.Sprintf(format, args...)})
}

func (c *manifestCheck) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ManifestError{Path: c.path, Problems: c.problems}
}

// shape checks the manifest document, converted to JSON, against the
// embedded manifest schema. Unknown keys are problems, not silently dropped.
func (c *manifestCheck) shape(doc []byte) error {
	v, err := manifestValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(doc)
	if err != nil {
		return fmt.Errorf("cannot check manifest %s: %w", c.path, err)
	}
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			c.add(d.Pointer, "%s", d.Message)
		}
	}
	return nil
}

// references checks that names are unique, that extends, depends_on and
// starts name declared steps, and that no extends chain loops.
func (c *manifestCheck) references(m *Manifest) {
	steps := make(map[string]bool, len(m.Steps))
	for i, s := range m.Steps {
		if steps[s.Name] {
			c.add(fmt.Sprintf("/steps/%d/name", i), "duplicate step name %q", s.Name)
		}
		steps[s.Name] = true
	}

	for i, s := range m.Steps {
		if s.Extends != "" && !steps[s.Extends] {
			c.add(fmt.Sprintf("/steps/%d/extends", i), "unknown base step %q", s.Extends)
		}
		for j, dep := range s.DependsOn {
			if !steps[dep] {
				c.add(fmt.Sprintf("/steps/%d/depends_on/%d", i, j), "unknown step %q", dep)
			}
		}
		if cycle := extendsCycle(m, s.Name); cycle != "" {
			c.add(fmt.Sprintf("/steps/%d/extends", i), "extends cycle: %s", cycle)
		}
	}

	pipelines := make(map[string]bool, len(m.Pipelines))
	for i, p := range m.Pipelines {
		if pipelines[p.Name] {
			c.add(fmt.Sprintf("/pipelines/%d/name", i), "duplicate pipeline name %q", p.Name)
		}
		pipelines[p.Name] = true
		for j, start := range p.Starts {
			if !steps[start] {
				c.add(fmt.Sprintf("/pipelines/%d/starts/%d", i, j), "unknown step %q", start)
			}
		}
	}
}

// extendsCycle returns the extends chain from name that loops back on
// itself, or "" if the chain ends.
func extendsCycle(m *Manifest, name string) string {
	seen := map[string]bool{}
	var chain []string
	for cur := name; cur != ""; {
		if seen[cur] {
			return strings.Join(append(chain, cur), " -> ")
		}
		seen[cur] = true
		chain = append(chain, cur)
		s, ok := m.Step(cur)
		if !ok {
			return ""
		}
		cur = s.Extends
	}
	return ""
}

func manifestValidator() (*schema.Validator, error) {
	manifestSchemaOnce.Do(func() {
		manifestSchema, manifestSchemaErr = schema.NewValidator(schemasassets.PipelineManifestSchema)
		if manifestSchemaErr != nil {
			manifestSchemaErr = fmt.Errorf("cannot compile manifest schema: %w", manifestSchemaErr)
		}
	})
	return manifestSchema, manifestSchemaErr
}
