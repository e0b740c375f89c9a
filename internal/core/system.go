package core

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
)

// System is a tax-benefit system: an entity schema, a variable registry and a
// parameter tree. Systems are immutable; Apply derives new ones.
type System struct {
	name     string
	version  *semver.Version
	schema   entities.Schema
	registry *Registry
	params   *parameters.Tree
	reforms  []string
}

// NewSystem assembles a system. version must be a semantic version.
func NewSystem(name, version string, schema entities.Schema, registry *Registry, params *parameters.Tree) (*System, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("system %s: version %q: %w", name, version, err)
	}
	if registry == nil {
		registry, _ = NewRegistry()
	}
	if params == nil {
		params = parameters.NewTree(nil)
	}
	for _, n := range registry.Names() {
		vr, _ := registry.Get(n)
		if !schema.Has(vr.Entity) {
			return nil, fmt.Errorf("system %s: variable %s: %w", name, n, entities.UnknownKindError{Kind: vr.Entity})
		}
	}
	return &System{name: name, version: v, schema: schema, registry: registry, params: params}, nil
}

func (s *System) Name() string { return s.name }

func (s *System) Version() *semver.Version { return s.version }

func (s *System) Schema() entities.Schema { return s.schema }

func (s *System) Registry() *Registry { return s.registry }

func (s *System) Parameters() *parameters.Tree { return s.params }

// Reforms lists the names of the reforms applied to reach this system, in
// application order.
func (s *System) Reforms() []string { return append([]string(nil), s.reforms...) }

// Apply returns the system obtained by applying reforms in order, each to the
// output of the previous. The receiver is never modified.
func (s *System) Apply(reforms ...Reform) (*System, error) {
	out := s
	for _, r := range reforms {
		if r == nil {
			continue
		}
		next, err := r.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("apply reform %s: %w", r.Name(), err)
		}
		if next == out {
			next = out.derive(out.registry, out.params)
		}
		next.reforms = append(append([]string(nil), out.reforms...), r.Name())
		out = next
	}
	return out, nil
}

// WithRegistry returns a copy of s using registry.
func (s *System) WithRegistry(registry *Registry) *System {
	return s.derive(registry, s.params)
}

// WithParameters returns a copy of s using params.
func (s *System) WithParameters(params *parameters.Tree) *System {
	return s.derive(s.registry, params)
}

func (s *System) derive(registry *Registry, params *parameters.Tree) *System {
	return &System{
		name:     s.name,
		version:  s.version,
		schema:   s.schema,
		registry: registry,
		params:   params,
		reforms:  append([]string(nil), s.reforms...),
	}
}
