package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/pipecheck/pkg/match"
)

// ErrArgs indicates malformed pass-through pipeline arguments.
var ErrArgs = errors.New("invalid pipeline arguments")

var (
	hookedFlag   = regexp.MustCompile(`^\+[-\w.]+$`)
	hookedAssign = regexp.MustCompile(`^\+[-\w.]+=.+$`)
)

// SkipHookedArgs drops plugin-hook arguments: "+name value" pairs and
// "+name=value" singles.
func SkipHookedArgs(args []string) []string {
	var out []string
	skipping := false
	for _, arg := range args {
		if skipping {
			skipping = false
			continue
		}
		if hookedFlag.MatchString(arg) {
			skipping = true
			continue
		}
		if hookedAssign.MatchString(arg) {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// ApplyArgs applies pass-through arguments to a resolved pipeline before
// extraction, so arguments that change step attributes are honored.
//
//	--P1.lang /usr/bin/python3     step attribute
//	--P1.envs.require_x=true       step variable (YAML scalar)
//	--forks 1                      pipeline option (YAML scalar)
//
// A flag without a value is set to true.
func ApplyArgs(p *Pipeline, args []string) error {
	args = SkipHookedArgs(args)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			return fmt.Errorf("%w: unexpected argument %q", ErrArgs, arg)
		}

		key, raw, hasValue := strings.Cut(arg[2:], "=")
		if !hasValue {
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
				raw = args[i+1]
				hasValue = true
				i++
			}
		}
		if !hasValue {
			raw = "true"
		}

		if err := applyArg(p, key, raw); err != nil {
			return err
		}
	}
	return nil
}

func applyArg(p *Pipeline, key, raw string) error {
	stepName, attr, dotted := strings.Cut(key, ".")
	if dotted {
		if step, ok := p.Step(stepName); ok {
			return applyStepArg(step, attr, raw)
		}
	}

	setPath(p.Options, strings.Split(key, "."), parseScalar(raw))
	return nil
}

func applyStepArg(step *Step, attr, raw string) error {
	switch {
	case attr == "lang":
		step.SetLang(raw)
	case attr == "summary":
		step.Summary = raw
	case strings.HasPrefix(attr, "envs.") && len(attr) > len("envs."):
		step.SetEnv(strings.TrimPrefix(attr, "envs."), parseScalar(raw))
	default:
		return fmt.Errorf("%w: step %s has no attribute %q (expected lang, summary, or envs.<name>)", ErrArgs, step.Name, attr)
	}
	return nil
}

// parseScalar interprets a command-line value as a YAML scalar so that
// "true", "1" and "0.5" keep their types. Non-scalars stay strings.
func parseScalar(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case nil, map[string]any, []any:
		return raw
	default:
		return v
	}
}

// FilterSteps keeps only the steps selected by the include and exclude
// doublestar patterns. No patterns keeps every step.
func FilterSteps(p *Pipeline, includes, excludes []string) error {
	m, err := match.New(match.Config{Includes: includes, Excludes: excludes})
	if err != nil {
		return fmt.Errorf("%w: invalid step pattern: %w", ErrArgs, err)
	}
	if m.Empty() {
		return nil
	}

	kept := p.Steps[:0]
	for _, s := range p.Steps {
		if m.Match(s.Name) {
			kept = append(kept, s)
		}
	}
	p.Steps = kept
	return nil
}
