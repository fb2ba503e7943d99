package pipeline

import (
	"fmt"
	"strings"
)

// Step is a resolved pipeline step.
//
// Attributes not set on the step itself are inherited through Base. Lang,
// Envs and the requirement declarations are resolved lazily so that
// pass-through overrides on a base step reach the steps extending it.
type Step struct {
	// Name identifies the step.
	Name string

	// Summary is the one-line description. Not inherited.
	Summary string

	// Base is the step this one extends, or nil.
	Base *Step

	// DependsOn lists upstream step names.
	DependsOn []string

	lang        string
	langSet     bool
	envs        map[string]any
	requires    any
	hasRequires bool
}

// Lang returns the step's interpreter, walking the extends chain.
func (s *Step) Lang() string {
	for cur := s; cur != nil; cur = cur.Base {
		if cur.langSet {
			return cur.lang
		}
	}
	return ""
}

// SetLang overrides the step's interpreter.
func (s *Step) SetLang(lang string) {
	s.lang = lang
	s.langSet = true
}

// Envs returns the merged step variables; the step's own values win over
// inherited ones. The returned map is a copy.
func (s *Step) Envs() map[string]any {
	var chain []*Step
	for cur := s; cur != nil; cur = cur.Base {
		chain = append(chain, cur)
	}
	out := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		mergeInto(out, chain[i].envs)
	}
	return out
}

// SetEnv overrides one step variable. path is dot-separated for nested
// maps (e.g. "opts.threads").
func (s *Step) SetEnv(path string, value any) {
	if s.envs == nil {
		s.envs = map[string]any{}
	}
	setPath(s.envs, strings.Split(path, "."), value)
}

// OwnRequires returns the step's own raw requirement declarations and
// whether it declared any. Inheritance is resolved by the extractor.
func (s *Step) OwnRequires() (any, bool) {
	return s.requires, s.hasRequires
}

// Pipeline is a resolved, ordered pipeline ready for extraction.
type Pipeline struct {
	// Name is the identifier used in the locator.
	Name string

	// Title is the display name.
	Title string

	// Options are pipeline-level options, including pass-through overrides.
	Options map[string]any

	// Steps are ordered so that every step follows its dependencies.
	Steps []*Step

	// Source is the manifest path the pipeline was loaded from.
	Source string
}

// Step returns the resolved step with the given name.
func (p *Pipeline) Step(name string) (*Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// StepNames returns step names in pipeline order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		names = append(names, s.Name)
	}
	return names
}

// Build resolves the named pipeline of a manifest.
//
// Steps are ordered topologically from the pipeline's starts along
// depends_on edges; ties keep declaration order.
func Build(m *Manifest, name string) (*Pipeline, error) {
	spec, ok := m.Pipeline(name)
	if !ok {
		return nil, fmt.Errorf("no pipeline named %q", name)
	}

	resolved := make(map[string]*Step, len(m.Steps))
	var resolve func(name string) *Step
	resolve = func(name string) *Step {
		if s, ok := resolved[name]; ok {
			return s
		}
		decl, _ := m.Step(name)
		s := &Step{
			Name:      decl.Name,
			Summary:   strings.TrimSpace(decl.Summary),
			DependsOn: append([]string(nil), decl.DependsOn...),
			envs:      cloneMap(decl.Envs),
		}
		if decl.Lang != "" {
			s.SetLang(decl.Lang)
		}
		if decl.Requires != nil {
			s.requires = decl.Requires
			s.hasRequires = true
		}
		resolved[name] = s
		if decl.Extends != "" {
			s.Base = resolve(decl.Extends)
		}
		return s
	}

	order, err := orderSteps(m, spec.Starts)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", name, err)
	}

	p := &Pipeline{
		Name:    spec.Name,
		Title:   spec.Title,
		Options: cloneMap(spec.Options),
		Source:  m.Path,
	}
	if p.Title == "" {
		p.Title = spec.Name
	}
	if p.Options == nil {
		p.Options = map[string]any{}
	}
	for _, n := range order {
		p.Steps = append(p.Steps, resolve(n))
	}
	return p, nil
}

// orderSteps returns the steps reachable from starts, dependencies first.
func orderSteps(m *Manifest, starts []string) ([]string, error) {
	index := make(map[string]int, len(m.Steps))
	dependents := make(map[string][]string, len(m.Steps))
	for i, s := range m.Steps {
		index[s.Name] = i
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	reachable := map[string]bool{}
	queue := append([]string(nil), starts...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if reachable[n] {
			continue
		}
		reachable[n] = true
		queue = append(queue, dependents[n]...)
	}

	indegree := map[string]int{}
	for n := range reachable {
		decl, _ := m.Step(n)
		for _, dep := range decl.DependsOn {
			if !reachable[dep] {
				return nil, fmt.Errorf("step %q depends on %q, which is not reachable from the pipeline starts", n, dep)
			}
			indegree[n]++
		}
	}

	var order []string
	for len(order) < len(reachable) {
		next := ""
		for n := range reachable {
			if indegree[n] != 0 || contains(order, n) {
				continue
			}
			if next == "" || index[n] < index[next] {
				next = n
			}
		}
		if next == "" {
			var stuck []string
			for _, s := range m.Steps {
				if reachable[s.Name] && !contains(order, s.Name) {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, fmt.Errorf("dependency cycle among steps: %s", strings.Join(stuck, ", "))
		}
		order = append(order, next)
		for _, d := range dependents[next] {
			if reachable[d] {
				indegree[d]--
			}
		}
	}
	return order, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merged := cloneMap(existing)
				mergeInto(merged, sub)
				dst[k] = merged
				continue
			}
			dst[k] = cloneMap(sub)
			continue
		}
		dst[k] = v
	}
}

func setPath(m map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// cloneMap deep-copies nested maps so overrides never touch the manifest.
func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
