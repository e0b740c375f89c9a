package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

// exprCostLimit bounds the work of one element's evaluation.
const exprCostLimit = 10000

// ExpressionSpec describes a formula written as a CEL expression evaluated
// once per entity instance. Inputs bind identifiers to variables of the same
// entity; a variable name may carry a "@last_year" or "@last_month" suffix to
// read it at the previous period. Params bind identifiers to parameter paths
// resolved at the request date. Every identifier has CEL type double, so
// numeric literals need a decimal point (2.0, not 2). The expression may
// yield a double, int or bool.
type ExpressionSpec struct {
	Expr   string
	Inputs map[string]string
	Params map[string]string
}

type exprInput struct {
	ident    string
	variable string
	shift    func(period.Period) period.Period
}

// Expression compiles spec into a Formula.
func Expression(spec ExpressionSpec) (Formula, error) {
	if strings.TrimSpace(spec.Expr) == "" {
		return nil, fmt.Errorf("expression: empty")
	}
	opts := make([]cel.EnvOption, 0, len(spec.Inputs)+len(spec.Params))
	inputs := make([]exprInput, 0, len(spec.Inputs))
	for _, ident := range sortedKeys(spec.Inputs) {
		in, err := parseExprInput(ident, spec.Inputs[ident])
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		opts = append(opts, cel.Variable(ident, cel.DoubleType))
	}
	paramIdents := sortedKeys(spec.Params)
	for _, ident := range paramIdents {
		if _, dup := spec.Inputs[ident]; dup {
			return nil, fmt.Errorf("expression: %s bound as both input and parameter", ident)
		}
		opts = append(opts, cel.Variable(ident, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("expression: environment: %w", err)
	}
	ast, issues := env.Compile(spec.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", spec.Expr, issues.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return nil, fmt.Errorf("expression: program: %w", err)
	}
	params := make(map[string]string, len(spec.Params))
	for k, v := range spec.Params {
		params[k] = v
	}

	return func(pop *Population, per period.Period, snap parameters.Snapshot) (Vector, error) {
		columns := make([]Vector, len(inputs))
		for i, in := range inputs {
			at := per
			if in.shift != nil {
				at = in.shift(per)
			}
			vals, err := pop.Calc(in.variable, at)
			if err != nil {
				return nil, err
			}
			columns[i] = vals
		}
		activation := make(map[string]any, len(inputs)+len(params))
		for _, ident := range paramIdents {
			x, err := snap.Float(params[ident])
			if err != nil {
				return nil, err
			}
			activation[ident] = x
		}
		out := make(Vector, pop.Len())
		for row := range out {
			for i, in := range inputs {
				activation[in.ident] = columns[i][row]
			}
			val, _, err := prg.Eval(activation)
			if err != nil {
				return nil, fmt.Errorf("expression %q: %w", spec.Expr, err)
			}
			switch x := val.Value().(type) {
			case float64:
				out[row] = x
			case int64:
				out[row] = float64(x)
			case bool:
				if x {
					out[row] = 1
				}
			default:
				return nil, fmt.Errorf("expression %q: result %T is not numeric", spec.Expr, x)
			}
		}
		return out, nil
	}, nil
}

func parseExprInput(ident, ref string) (exprInput, error) {
	name, suffix, shifted := strings.Cut(ref, "@")
	in := exprInput{ident: ident, variable: name}
	if !shifted {
		return in, nil
	}
	switch suffix {
	case "last_year":
		in.shift = period.Period.LastYear
	case "last_month":
		in.shift = period.Period.LastMonth
	case "this_year":
		in.shift = period.Period.ThisYear
	default:
		return exprInput{}, fmt.Errorf("expression: input %s: unknown period shift %q", ident, suffix)
	}
	return in, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
