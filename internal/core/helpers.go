package core

import (
	"fmt"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

// Add sums variables over pop at per. Person variables requested from a group
// population are summed over members; group variables requested from the
// person population are projected onto members.
func Add(pop *Population, per period.Period, names ...string) (Vector, error) {
	total := pop.Filled(0)
	for _, name := range names {
		v, err := pop.sim.system.Registry().Get(name)
		if err != nil {
			return nil, err
		}
		vals, err := pop.sim.calculate(name, per, ModeAuto)
		if err != nil {
			return nil, err
		}
		switch {
		case v.Entity == pop.kind:
		case v.Entity == entities.Person:
			if vals, err = pop.Sum(vals); err != nil {
				return nil, err
			}
		case pop.kind == entities.Person:
			group, err := pop.sim.Population(v.Entity)
			if err != nil {
				return nil, err
			}
			if vals, err = group.Project(vals); err != nil {
				return nil, err
			}
		default:
			return nil, EntityMismatchError{Variable: name, Want: v.Entity, Got: pop.kind}
		}
		total = total.Add(vals)
	}
	return total, nil
}

// Aggr sums person variables to the group pop.
func Aggr(pop *Population, per period.Period, names ...string) (Vector, error) {
	if pop.kind == entities.Person {
		return nil, fmt.Errorf("aggr: %s is not a group entity", pop.kind)
	}
	total := pop.Filled(0)
	persons := pop.Persons()
	for _, name := range names {
		vals, err := persons.Calc(name, per)
		if err != nil {
			return nil, err
		}
		sum, err := pop.Sum(vals)
		if err != nil {
			return nil, err
		}
		total = total.Add(sum)
	}
	return total, nil
}

// SumOf returns a formula adding the named variables.
func SumOf(names ...string) Formula {
	list := append([]string(nil), names...)
	return func(pop *Population, per period.Period, _ parameters.Snapshot) (Vector, error) {
		return Add(pop, per, list...)
	}
}
