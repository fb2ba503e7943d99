// Package pipeline loads pipeline manifests and resolves pipeline locators.
//
// A pipeline manifest is a YAML or JSON file declaring steps and the
// pipelines built from them. Manifests are validated against an embedded
// JSON Schema before use; unknown properties are rejected.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	steps:
//	  - name: P1
//	    summary: Process 1
//	    lang: python3
//	    requires:
//	      - name: pipen
//	        message: Run `pip install -U pipen` to install
//	        check: ${proc.lang} -c "import pipen"
//	  - name: P2
//	    summary: Process without requirement specification
//	    depends_on: [P1]
//	pipelines:
//	  - name: ExamplePipeline
//	    starts: [P1]
//
// The requirement declarations under `requires` are deliberately left
// free-form here. Their shape belongs to the extractor, which reports
// malformed declarations per step.
package pipeline

// Manifest is a parsed, schema-validated pipeline manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Steps declares every step available to the manifest's pipelines.
	Steps []StepSpec `json:"steps" yaml:"steps"`

	// Pipelines declares named pipelines built from Steps.
	Pipelines []PipelineSpec `json:"pipelines" yaml:"pipelines"`

	// Path is the file the manifest was loaded from, if any.
	Path string `json:"-" yaml:"-"`
}

// StepSpec is a step declaration as written in the manifest.
type StepSpec struct {
	// Name identifies the step; unique within the manifest.
	Name string `json:"name" yaml:"name"`

	// Summary is the one-line description shown in the status tree.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Lang is the step's interpreter, available to templates as proc.lang.
	Lang string `json:"lang,omitempty" yaml:"lang,omitempty"`

	// Envs are step variables, available to templates as proc.envs and envs.
	Envs map[string]any `json:"envs,omitempty" yaml:"envs,omitempty"`

	// Extends names a base step whose attributes (and requirement
	// declarations, when this step declares none) are inherited.
	Extends string `json:"extends,omitempty" yaml:"extends,omitempty"`

	// DependsOn lists upstream steps.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Requires holds the raw requirement declarations. nil means the step
	// declared none.
	Requires any `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// PipelineSpec is a pipeline declaration as written in the manifest.
type PipelineSpec struct {
	// Name is the identifier used in locators (file.yaml:Name).
	Name string `json:"name" yaml:"name"`

	// Title is the display name. Defaults to Name.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Starts lists the entry steps.
	Starts []string `json:"starts" yaml:"starts"`

	// Options are free-form pipeline options (e.g. forks), available to
	// templates as proc.pipeline.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Step looks up a step declaration by name.
func (m *Manifest) Step(name string) (*StepSpec, bool) {
	for i := range m.Steps {
		if m.Steps[i].Name == name {
			return &m.Steps[i], true
		}
	}
	return nil, false
}

// Pipeline looks up a pipeline declaration by name.
func (m *Manifest) Pipeline(name string) (*PipelineSpec, bool) {
	for i := range m.Pipelines {
		if m.Pipelines[i].Name == name {
			return &m.Pipelines[i], true
		}
	}
	return nil, false
}

// PipelineNames returns pipeline names in declaration order.
func (m *Manifest) PipelineNames() []string {
	names := make([]string, 0, len(m.Pipelines))
	for _, p := range m.Pipelines {
		names = append(names, p.Name)
	}
	return names
}
