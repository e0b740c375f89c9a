package core

import (
	"sort"

	"microsim/pkg/period"
)

// Registry is an immutable catalog of variables. With and Without return new
// registries; the receiver and any simulation built from it are unaffected.
type Registry struct {
	vars map[string]*Variable
}

// NewRegistry validates and indexes vars.
func NewRegistry(vars ...*Variable) (*Registry, error) {
	r := &Registry{vars: make(map[string]*Variable, len(vars))}
	for _, v := range vars {
		if err := v.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.vars[v.Name]; dup {
			return nil, DuplicateVariableError{Name: v.Name}
		}
		cp := v.Clone()
		cp.sortSpans()
		r.vars[v.Name] = cp
	}
	return r, nil
}

// Get returns the definition of name. The returned variable must not be
// modified; use Clone.
func (r *Registry) Get(name string) (*Variable, error) {
	v, ok := r.vars[name]
	if !ok {
		return nil, UnknownVariableError{Name: name}
	}
	return v, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.vars[name]
	return ok
}

// FormulaFor returns the formula active for name at p: the span with the
// latest start not after the start of p. It returns nil when no formula
// applies and the variable has a default, and NoApplicableFormulaError when
// it has none.
func (r *Registry) FormulaFor(name string, p period.Period) (Formula, error) {
	v, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if f := v.formulaAt(p); f != nil && !v.Neutralized {
		return f, nil
	}
	if v.NoDefault {
		return nil, NoApplicableFormulaError{Variable: name, Period: p}
	}
	return nil, nil
}

// With returns a registry in which vars replace or extend the receiver's.
func (r *Registry) With(vars ...*Variable) (*Registry, error) {
	out := &Registry{vars: make(map[string]*Variable, len(r.vars)+len(vars))}
	for k, v := range r.vars {
		out.vars[k] = v
	}
	for _, v := range vars {
		if err := v.validate(); err != nil {
			return nil, err
		}
		cp := v.Clone()
		cp.sortSpans()
		out.vars[v.Name] = cp
	}
	return out, nil
}

// Without returns a registry lacking names.
func (r *Registry) Without(names ...string) *Registry {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := &Registry{vars: make(map[string]*Variable, len(r.vars))}
	for k, v := range r.vars {
		if _, ok := drop[k]; !ok {
			out.vars[k] = v
		}
	}
	return out
}

// Names lists the registered variables in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.vars))
	for k := range r.vars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of registered variables.
func (r *Registry) Len() int { return len(r.vars) }
