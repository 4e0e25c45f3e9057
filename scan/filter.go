// Package scan implements scanner filter predicates over cells using CEL
// expressions, so a client can push a row/column/value predicate down to the
// region server instead of filtering client-side after every Next call.
// Grounded on the teacher's cel.Evaluator (compiled CEL program over two
// map[string]any variables), generalized from a two-key comparer to a single
// cell predicate.
package scan

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	rs "github.com/sharedcode/regionserver"
)

// Filter is a compiled CEL predicate over one cell: row, column, timestamp and
// value are exposed as the "cell" variable's map fields.
type Filter struct {
	Expression string
	program    cel.Program
}

// NewFilter compiles expression, which must evaluate to a bool given a "cell"
// variable with fields row (bytes), column (string), ts (int), value (bytes).
// Example: `cell.column == "info:name" && size(cell.value) > 0`.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("filter expression can't be empty")
	}
	env, err := cel.NewEnv(
		cel.Variable("cell", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling filter expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating filter program: %v", err)
	}
	return &Filter{Expression: expression, program: p}, nil
}

// Match evaluates the filter against c, returning true when it should be kept
// in the scan result.
func (f *Filter) Match(c rs.Cell) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"cell": map[string]any{
			"row":    c.Row,
			"column": c.Column,
			"ts":     c.Timestamp,
			"value":  c.Value,
		},
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating filter expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("filter expression must evaluate to bool, got: %v", err)
	}
	match, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("filter expression must evaluate to bool")
	}
	return match, nil
}

// ApplyAll filters cells in place, keeping only those matching every filter.
func ApplyAll(cells []rs.Cell, filters []*Filter) ([]rs.Cell, error) {
	if len(filters) == 0 {
		return cells, nil
	}
	out := cells[:0]
	for _, c := range cells {
		keep := true
		for _, f := range filters {
			ok, err := f.Match(c)
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out, nil
}
