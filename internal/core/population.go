package core

import (
	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

// Population is the view of one entity kind that formulas receive. It issues
// nested requests to the owning simulation and moves arrays between entity
// levels.
type Population struct {
	sim  *Simulation
	kind entities.Kind
}

// Kind is the entity kind of the population.
func (p *Population) Kind() entities.Kind { return p.kind }

// Len is the number of instances.
func (p *Population) Len() int { return p.sim.structure.Len(p.kind) }

// IDs returns the instance identifiers in order.
func (p *Population) IDs() []string { return p.sim.structure.IDs(p.kind) }

// Calc resolves a variable of this entity at per.
func (p *Population) Calc(name string, per period.Period) (Vector, error) {
	return p.calc(name, per, ModeAuto)
}

// CalcAdd sums a variable of this entity over the subperiods of per.
func (p *Population) CalcAdd(name string, per period.Period) (Vector, error) {
	return p.calc(name, per, ModeAdd)
}

// CalcDivide takes per's share of the enclosing definition period.
func (p *Population) CalcDivide(name string, per period.Period) (Vector, error) {
	return p.calc(name, per, ModeDivide)
}

func (p *Population) calc(name string, per period.Period, mode Mode) (Vector, error) {
	v, err := p.sim.system.Registry().Get(name)
	if err != nil {
		return nil, err
	}
	if v.Entity != p.kind {
		return nil, EntityMismatchError{Variable: name, Want: v.Entity, Got: p.kind}
	}
	out, err := p.sim.calculate(name, per, mode)
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// Parameters returns the parameter tree as of the start of per.
func (p *Population) Parameters(per period.Period) parameters.Snapshot {
	return p.sim.Parameters(per)
}

// Population returns another entity's view in the same simulation.
func (p *Population) Population(kind entities.Kind) (*Population, error) {
	return p.sim.Population(kind)
}

// Persons returns the person population.
func (p *Population) Persons() *Population { return p.sim.populations[entities.Person] }

// Filled returns a vector of v for every instance.
func (p *Population) Filled(v float64) Vector { return Filled(p.Len(), v) }

// Random draws one uniform [0, 1) value per instance. Draws are keyed by the
// simulation seed and the request being computed, so they do not depend on
// evaluation order.
func (p *Population) Random() Vector {
	rng := p.sim.stream(p.kind)
	out := make(Vector, p.Len())
	for i := range out {
		out[i] = rng.Float64()
	}
	return out
}

// Project broadcasts this group's values to its member persons.
func (p *Population) Project(vals Vector) (Vector, error) {
	out, err := p.sim.structure.Project(p.kind, vals)
	return Vector(out), err
}

// Sum totals person values per group of this population, restricted to roles
// when given.
func (p *Population) Sum(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.Sum, vals, roles...)
}

// Any is true for groups with at least one true member.
func (p *Population) Any(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.Any, vals, roles...)
}

// All is true for groups whose members are all true.
func (p *Population) All(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.All, vals, roles...)
}

// Max is the largest member value per group.
func (p *Population) Max(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.Max, vals, roles...)
}

// Min is the smallest member value per group.
func (p *Population) Min(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.Min, vals, roles...)
}

// Count counts members with a non-zero value per group.
func (p *Population) Count(vals Vector, roles ...entities.Role) (Vector, error) {
	return p.Aggregate(entities.Count, vals, roles...)
}

// ValueFromFirstPerson takes the value of the first member holding role.
func (p *Population) ValueFromFirstPerson(vals Vector, role entities.Role) (Vector, error) {
	out, err := p.sim.structure.ValueFromFirstPerson(p.kind, vals, role)
	return Vector(out), err
}

// NbPersons counts members per group, restricted to roles when given.
func (p *Population) NbPersons(roles ...entities.Role) (Vector, error) {
	out, err := p.sim.structure.NbPersons(p.kind, roles...)
	return Vector(out), err
}

// Aggregate reduces person values to this group with how.
func (p *Population) Aggregate(how entities.Aggregation, vals Vector, roles ...entities.Role) (Vector, error) {
	out, err := p.sim.structure.Aggregate(p.kind, how, vals, roles...)
	return Vector(out), err
}

// HasRole marks persons holding role in groups of kind.
func (p *Population) HasRole(kind entities.Kind, role entities.Role) (Vector, error) {
	roles, err := p.sim.structure.Roles(kind)
	if err != nil {
		return nil, err
	}
	out := make(Vector, len(roles))
	for i, r := range roles {
		if r == role {
			out[i] = 1
		}
	}
	return out, nil
}

// IndexInGroup is each person's position within their group of kind.
func (p *Population) IndexInGroup(kind entities.Kind) (Vector, error) {
	out, err := p.sim.structure.IndexInGroup(kind)
	return Vector(out), err
}
