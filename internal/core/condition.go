package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"matrixci/internal/matrix"
)

// ${{ expr }} placeholders inside run commands, env values, with inputs and runs-on.
var placeholder = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)

// Scope is what an expression can see while a job is planned or running.
type Scope struct {
	Axes   []matrix.Axis
	Matrix matrix.Combination
	Host   Host
	Env    map[string]string

	// Failed is true once any earlier step of the job failed.
	Failed bool
}

// Condition is a parsed step `if:` expression.
type Condition struct {
	src  string
	expr hcl.Expression
}

// ParseCondition parses an HCL boolean expression. The ${{ }} wrapper is optional.
func ParseCondition(src string) (*Condition, error) {
	src = strings.TrimSpace(src)
	if m := placeholder.FindStringSubmatch(src); m != nil && m[0] == src {
		src = m[1]
	}
	if src == "" {
		return nil, fmt.Errorf("empty condition")
	}
	expr, diags := hclsyntax.ParseExpression([]byte(src), "if", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse condition %q: %s", src, diags.Error())
	}
	return &Condition{src: src, expr: expr}, nil
}

// String returns the expression source.
func (c *Condition) String() string { return c.src }

// Eval evaluates the condition; anything other than a known bool is an error.
func (c *Condition) Eval(s Scope) (bool, error) {
	v, diags := c.expr.Value(s.evalContext())
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluate %q: %s", c.src, diags.Error())
	}
	if !v.IsKnown() || v.IsNull() {
		return false, fmt.Errorf("evaluate %q: result is null or unknown", c.src)
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: want bool, got %s", c.src, v.Type().FriendlyName())
	}
	return b.True(), nil
}

// Interpolate replaces every ${{ expr }} in s with the expression's string value.
func Interpolate(s string, scope Scope) (string, error) {
	idx := placeholder.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s, nil
	}

	ctx := scope.evalContext()
	var b strings.Builder
	last := 0
	for _, loc := range idx {
		b.WriteString(s[last:loc[0]])
		src := s[loc[2]:loc[3]]

		expr, diags := hclsyntax.ParseExpression([]byte(src), "template", hcl.InitialPos)
		if diags.HasErrors() {
			return "", fmt.Errorf("parse %q: %s", src, diags.Error())
		}
		v, diags := expr.Value(ctx)
		if diags.HasErrors() {
			return "", fmt.Errorf("evaluate %q: %s", src, diags.Error())
		}
		if v.IsNull() || !v.IsKnown() {
			return "", fmt.Errorf("evaluate %q: result is null or unknown", src)
		}
		sv, err := convert.Convert(v, cty.String)
		if err != nil {
			return "", fmt.Errorf("evaluate %q: %w", src, err)
		}
		b.WriteString(sv.AsString())
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (s Scope) evalContext() *hcl.EvalContext {
	vars := make(map[string]string, len(s.Axes)+len(s.Matrix))
	for _, a := range s.Axes {
		vars[a.Name] = ""
	}
	for k, v := range s.Matrix {
		vars[k] = v
	}

	failed := s.Failed
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"matrix": objectVal(vars),
			"runner": objectVal(map[string]string{"os": s.Host.OS, "name": s.Host.Name}),
			"env":    objectVal(s.Env),
		},
		Functions: map[string]function.Function{
			"success": boolFunc(func() bool { return !failed }),
			"failure": boolFunc(func() bool { return failed }),
			"always":  boolFunc(func() bool { return true }),
		},
	}
}

func objectVal(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}

func boolFunc(f func() bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{},
		Type:   function.StaticReturnType(cty.Bool),
		Impl: func(_ []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(f()), nil
		},
	})
}
