package respondents

import (
	"fmt"
	"math"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"surveycore/internal/responses"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// Measure derives a weighting category from a respondent's answers. The
// expression sees each field by its identifier; an empty expression
// yields the answer to the only field.
type Measure struct {
	Name       string   `json:"name" yaml:"name"`
	Fields     []string `json:"fields" yaml:"fields"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// CompiledMeasure is a Measure bound to field descriptors.
type CompiledMeasure struct {
	name    string
	fields  []*schema.Descriptor
	program *exprvm.Program
}

// CompileMeasure resolves the measure's fields and compiles its
// expression.
func CompileMeasure(m Measure, fields *schema.Manager) (*CompiledMeasure, error) {
	if len(m.Fields) == 0 {
		return nil, domain.Fatal("respondents.CompileMeasure", fmt.Errorf("measure %q names no fields", m.Name))
	}
	if m.Expression == "" && len(m.Fields) != 1 {
		return nil, domain.Fatal("respondents.CompileMeasure", fmt.Errorf("measure %q needs an expression to combine %d fields", m.Name, len(m.Fields)))
	}
	cm := &CompiledMeasure{name: m.Name}
	for _, name := range m.Fields {
		d, err := fields.Get(name)
		if err != nil {
			return nil, err
		}
		cm.fields = append(cm.fields, d)
	}
	if err := checkQuotaFields(cm.fields); err != nil {
		return nil, err
	}
	if m.Expression == "" {
		return cm, nil
	}
	program, err := exprlang.Compile(m.Expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, domain.Fatal("respondents.CompileMeasure", fmt.Errorf("measure %q: %w", m.Name, err))
	}
	cm.program = program
	return cm, nil
}

func (m *CompiledMeasure) Name() string { return m.name }

// Fields returns the descriptors the measure reads.
func (m *CompiledMeasure) Fields() []*schema.Descriptor {
	return append([]*schema.Descriptor(nil), m.fields...)
}

// Category evaluates the measure for p. A missing answer, a nil result or
// an evaluation failure all report no category.
func (m *CompiledMeasure) Category(p *responses.ProfileResponseEntity) (int, bool) {
	if m.program == nil {
		return profileOrSingleValue(p, m.fields[0])
	}
	env := make(map[string]any, len(m.fields))
	for _, d := range m.fields {
		if v, ok := profileOrSingleValue(p, d); ok {
			env[schema.Identifier(d.Name())] = v
		}
	}
	out, err := exprlang.Run(m.program, env)
	if err != nil {
		return 0, false
	}
	return toCategory(out)
}

func toCategory(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
