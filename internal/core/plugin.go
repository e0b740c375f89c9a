package core

import (
	"fmt"
	"sort"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
)

// Plugin is a content pack that contributes variables and parameters to a
// system.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	variables map[string]*Variable
	order     []string
	params    []*parameters.Tree
	reforms   []Reform
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{variables: make(map[string]*Variable)}
}

// RegisterVariable adds a variable definition. Names must be unique across
// all plugins.
func (r *PluginRegistry) RegisterVariable(v *Variable) error {
	if v == nil {
		return nil
	}
	if err := v.validate(); err != nil {
		return err
	}
	if _, exists := r.variables[v.Name]; exists {
		return DuplicateVariableError{Name: v.Name}
	}
	r.variables[v.Name] = v.Clone()
	r.order = append(r.order, v.Name)
	return nil
}

// RegisterParameters merges a parameter tree into the system's parameters.
// Later registrations win on conflicting leaves.
func (r *PluginRegistry) RegisterParameters(tree *parameters.Tree) {
	if tree == nil {
		return
	}
	r.params = append(r.params, tree)
}

// RegisterReform adds a reform applied to the assembled system, in
// registration order.
func (r *PluginRegistry) RegisterReform(reform Reform) {
	if reform == nil {
		return
	}
	r.reforms = append(r.reforms, reform)
}

// Variables returns copies of the registered variables in registration order.
func (r *PluginRegistry) Variables() []*Variable {
	out := make([]*Variable, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.variables[name].Clone())
	}
	return out
}

// Parameters merges every registered tree.
func (r *PluginRegistry) Parameters() *parameters.Tree {
	out := parameters.NewTree(nil)
	for _, t := range r.params {
		out = out.Merge(t)
	}
	return out
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name      string
	Version   string
	Variables []string
}

// Build registers plugins in order and assembles a system from their
// contributions.
func Build(name, version string, schema entities.Schema, plugins ...Plugin) (*System, []PluginMetadata, error) {
	reg := NewPluginRegistry()
	meta := make([]PluginMetadata, 0, len(plugins))
	seen := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		if p == nil {
			continue
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, nil, fmt.Errorf("plugin %s already installed", p.Name())
		}
		seen[p.Name()] = struct{}{}
		before := len(reg.order)
		if err := p.Register(reg); err != nil {
			return nil, nil, fmt.Errorf("register plugin %s: %w", p.Name(), err)
		}
		vars := append([]string(nil), reg.order[before:]...)
		sort.Strings(vars)
		meta = append(meta, PluginMetadata{Name: p.Name(), Version: p.Version(), Variables: vars})
	}
	registry, err := NewRegistry(reg.Variables()...)
	if err != nil {
		return nil, nil, err
	}
	sys, err := NewSystem(name, version, schema, registry, reg.Parameters())
	if err != nil {
		return nil, nil, err
	}
	if len(reg.reforms) > 0 {
		if sys, err = sys.Apply(reg.reforms...); err != nil {
			return nil, nil, err
		}
	}
	return sys, meta, nil
}
