package core

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"microsim/pkg/parameters"
)

// Reform derives a modified system from a base system. Implementations must
// not modify the base.
type Reform interface {
	Name() string
	Apply(base *System) (*System, error)
}

type reformFunc struct {
	name string
	fn   func(*System) (*System, error)
}

func (r reformFunc) Name() string { return r.name }

func (r reformFunc) Apply(base *System) (*System, error) { return r.fn(base) }

// ReformFunc adapts fn to the Reform interface.
func ReformFunc(name string, fn func(base *System) (*System, error)) Reform {
	return reformFunc{name: name, fn: fn}
}

// Chain composes reforms into one that applies them in order.
func Chain(name string, reforms ...Reform) Reform {
	return chain{name: name, parts: append([]Reform(nil), reforms...)}
}

type chain struct {
	name  string
	parts []Reform
}

func (c chain) Name() string { return c.name }

func (c chain) Apply(base *System) (*System, error) {
	out := base
	for _, r := range c.parts {
		if r == nil {
			continue
		}
		next, err := r.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		out = next
	}
	return out, nil
}

// Flatten expands chains built with Chain into their parts, recursively, and
// drops nil entries.
func Flatten(reforms ...Reform) []Reform {
	out := make([]Reform, 0, len(reforms))
	for _, r := range reforms {
		switch v := r.(type) {
		case nil:
		case chain:
			out = append(out, Flatten(v.parts...)...)
		default:
			out = append(out, r)
		}
	}
	return out
}

func updateVariable(base *System, name string, fn func(v *Variable) error) (*System, error) {
	v, err := base.Registry().Get(name)
	if err != nil {
		return nil, err
	}
	cp := v.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	reg, err := base.Registry().With(cp)
	if err != nil {
		return nil, err
	}
	return base.WithRegistry(reg), nil
}

// ReplaceFormula gives name a single formula for all periods.
func ReplaceFormula(name string, f Formula) Reform {
	return ReformFunc("replace_formula:"+name, func(base *System) (*System, error) {
		return updateVariable(base, name, func(v *Variable) error {
			v.Formulas = []FormulaSpan{{Formula: f}}
			v.Neutralized = false
			return nil
		})
	})
}

// ReplaceFormulaFrom replaces name's formula from the given date onward,
// keeping the history before it.
func ReplaceFormulaFrom(name string, from time.Time, f Formula) Reform {
	return ReformFunc("replace_formula_from:"+name, func(base *System) (*System, error) {
		return updateVariable(base, name, func(v *Variable) error {
			kept := v.Formulas[:0:0]
			for _, s := range v.Formulas {
				if s.Start.Before(from) {
					kept = append(kept, s)
				}
			}
			v.Formulas = append(kept, FormulaSpan{Start: from, Formula: f})
			return nil
		})
	})
}

// AddVariable registers a new variable. Redefining an existing name fails.
func AddVariable(v *Variable) Reform {
	return ReformFunc("add_variable:"+v.Name, func(base *System) (*System, error) {
		if base.Registry().Has(v.Name) {
			return nil, DuplicateVariableError{Name: v.Name}
		}
		if !base.Schema().Has(v.Entity) {
			return nil, fmt.Errorf("variable %s: unknown entity %q", v.Name, v.Entity)
		}
		reg, err := base.Registry().With(v)
		if err != nil {
			return nil, err
		}
		return base.WithRegistry(reg), nil
	})
}

// UpdateVariable applies fn to a copy of name's definition.
func UpdateVariable(name string, fn func(v *Variable) error) Reform {
	return ReformFunc("update_variable:"+name, func(base *System) (*System, error) {
		return updateVariable(base, name, fn)
	})
}

// NeutralizeVariable makes name always resolve to its default, ignoring
// formulas and inputs.
func NeutralizeVariable(name string) Reform {
	return ReformFunc("neutralize:"+name, func(base *System) (*System, error) {
		return updateVariable(base, name, func(v *Variable) error {
			v.Neutralized = true
			return nil
		})
	})
}

// ReplaceParameters mounts node at path, replacing whatever was there.
func ReplaceParameters(path string, node *parameters.Node) Reform {
	return ReformFunc("replace_parameters:"+path, func(base *System) (*System, error) {
		t, err := base.Parameters().WithSubtree(path, node)
		if err != nil {
			return nil, err
		}
		return base.WithParameters(t), nil
	})
}

// SetParameter sets the parameter at path to value from the given date on.
func SetParameter(path string, from time.Time, value float64) Reform {
	return ReformFunc("set_parameter:"+path, func(base *System) (*System, error) {
		t, err := base.Parameters().WithValue(path, from, value)
		if err != nil {
			return nil, err
		}
		return base.WithParameters(t), nil
	})
}

// ModifyParameters derives a new parameter tree with fn.
func ModifyParameters(name string, fn func(*parameters.Tree) (*parameters.Tree, error)) Reform {
	return ReformFunc("modify_parameters:"+name, func(base *System) (*System, error) {
		t, err := fn(base.Parameters())
		if err != nil {
			return nil, err
		}
		return base.WithParameters(t), nil
	})
}

// Perturb shifts name's resolved values by p. It replaces any earlier
// perturbation of the same variable.
func Perturb(name string, p Perturbation) Reform {
	return ReformFunc(fmt.Sprintf("perturb:%s:%g", name, p.Delta), func(base *System) (*System, error) {
		return updateVariable(base, name, func(v *Variable) error {
			cp := p
			cp.Mask = p.Mask.Clone()
			v.Perturb = &cp
			return nil
		})
	})
}

// RequireVersion fails unless the system version satisfies constraint.
func RequireVersion(constraint string) Reform {
	return ReformFunc("requires:"+constraint, func(base *System) (*System, error) {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("version constraint %q: %w", constraint, err)
		}
		if !c.Check(base.Version()) {
			return nil, fmt.Errorf("system %s %s does not satisfy %s", base.Name(), base.Version(), constraint)
		}
		return base, nil
	})
}
