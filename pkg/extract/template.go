package extract

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/3leaps/pipecheck/pkg/pipeline"
)

// scope holds the evaluation context for one step's templates.
type scope struct {
	step    string
	evalCtx *hcl.EvalContext
}

func newScope(p *pipeline.Pipeline, s *pipeline.Step) (*scope, error) {
	envs, err := toCty(s.Envs())
	if err != nil {
		return nil, fmt.Errorf("envs: %w", err)
	}
	options, err := toCty(p.Options)
	if err != nil {
		return nil, fmt.Errorf("pipeline options: %w", err)
	}

	proc := cty.ObjectVal(map[string]cty.Value{
		"name":     cty.StringVal(s.Name),
		"summary":  cty.StringVal(firstLine(s.Summary)),
		"lang":     cty.StringVal(s.Lang()),
		"envs":     envs,
		"pipeline": options,
	})

	return &scope{
		step: s.Name,
		evalCtx: &hcl.EvalContext{Variables: map[string]cty.Value{
			"proc": proc,
			"envs": envs,
		}},
	}, nil
}

// renderField renders entry[key]. A missing key renders as "". Non-string
// scalars (a YAML `if: false`) are formatted directly.
func (s *scope) renderField(entry map[string]any, key string) (string, error) {
	v, ok := entry[key]
	if !ok || v == nil {
		return "", nil
	}
	src, ok := v.(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(v)), nil
	}
	out, err := s.render(key, src)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// render evaluates an HCL template string.
func (s *scope) render(field, src string) (string, error) {
	filename := fmt.Sprintf("%s.%s", s.step, field)
	expr, diags := hclsyntax.ParseTemplate([]byte(src), filename, hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return "", diags
	}

	val, diags := expr.Value(s.evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	if val.IsNull() {
		return "", nil
	}
	if !val.IsWhollyKnown() {
		return "", fmt.Errorf("%s: template value is not known", filename)
	}

	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("%s: cannot render %s as a string: %w", filename, val.Type().FriendlyName(), err)
	}
	return str.AsString(), nil
}

// toCty converts decoded YAML/JSON values into cty values. Maps become
// objects and lists become tuples so mixed element types are allowed.
func toCty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case uint64:
		return cty.NumberUIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case *big.Float:
		return cty.NumberVal(t), nil
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		vals := make([]cty.Value, 0, len(t))
		for i, item := range t {
			cv, err := toCty(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("[%d]: %w", i, err)
			}
			vals = append(vals, cv)
		}
		return cty.TupleVal(vals), nil
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]cty.Value, len(t))
		for _, k := range keys {
			cv, err := toCty(t[k])
			if err != nil {
				return cty.NilVal, fmt.Errorf("%s: %w", k, err)
			}
			attrs[k] = cv
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
	}
}
