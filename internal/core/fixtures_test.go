package core

import (
	"testing"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

const fixtureParams = `
benefits:
  allowance:
    values:
      2019-01-01: 100
      2021-01-01: 120
  cpi:
    values:
      2019-01-01: 100
      2020-01-01: 110
tax:
  rate:
    values:
      2019-01-01: 0.2
`

// fixtureStructure is one household of three persons in two benefit units:
// p1 and p2 share b1, p3 is alone in b2.
func fixtureStructure(t *testing.T, persons ...string) *entities.Structure {
	t.Helper()
	if len(persons) == 0 {
		persons = []string{"p1", "p2", "p3"}
	}
	benunitOf := map[string]string{"p1": "b1", "p2": "b1", "p3": "b2"}
	roleOf := map[string]entities.Role{"p1": entities.Head, "p2": entities.Partner, "p3": entities.Head}
	b := entities.NewBuilder(entities.DefaultSchema())
	if err := b.Declare(entities.Person, persons); err != nil {
		t.Fatalf("declare: %v", err)
	}
	bu := make([]string, len(persons))
	hh := make([]string, len(persons))
	roles := make([]entities.Role, len(persons))
	for i, p := range persons {
		bu[i] = benunitOf[p]
		hh[i] = "h1"
		roles[i] = roleOf[p]
	}
	if err := b.Join(entities.BenUnit, persons, bu, roles); err != nil {
		t.Fatalf("join benunit: %v", err)
	}
	if err := b.Join(entities.Household, persons, hh, nil); err != nil {
		t.Fatalf("join household: %v", err)
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return s
}

func yearly(name string, kind entities.Kind, f Formula) *Variable {
	v := &Variable{Name: name, Entity: kind, ValueType: Float, Definition: period.Year}
	if f != nil {
		v.Formulas = []FormulaSpan{{Formula: f}}
	}
	return v
}

func fixtureVariables() []*Variable {
	return []*Variable{
		yearly("employment_income", entities.Person, nil),
		yearly("total_income", entities.Person, SumOf("employment_income")),
		yearly("household_income", entities.Household, func(pop *Population, p period.Period, _ parameters.Snapshot) (Vector, error) {
			income, err := pop.Persons().Calc("total_income", p)
			if err != nil {
				return nil, err
			}
			return pop.Sum(income)
		}),
		yearly("income_tax", entities.Person, func(pop *Population, p period.Period, params parameters.Snapshot) (Vector, error) {
			income, err := pop.Calc("total_income", p)
			if err != nil {
				return nil, err
			}
			rate, err := params.Float("tax.rate")
			if err != nil {
				return nil, err
			}
			return income.Scale(rate), nil
		}),
		yearly("allowance", entities.BenUnit, func(pop *Population, p period.Period, params parameters.Snapshot) (Vector, error) {
			amount, err := params.Float("benefits.allowance")
			if err != nil {
				return nil, err
			}
			return pop.Filled(amount), nil
		}),
		{Name: "in_work", Entity: entities.Person, ValueType: Bool, Definition: period.Month},
		{Name: "monthly_rent", Entity: entities.Household, ValueType: Float, Definition: period.Month},
		{Name: "tenure", Entity: entities.Household, ValueType: Enum, Definition: period.Year, Labels: []string{"OWNER", "RENTER", "SOCIAL"}},
		{Name: "age", Entity: entities.Person, ValueType: Int, Definition: period.Eternity, Default: 30},
	}
}

func fixtureSystem(t *testing.T, extra ...*Variable) *System {
	t.Helper()
	tree, err := parameters.Load([]byte(fixtureParams))
	if err != nil {
		t.Fatalf("load parameters: %v", err)
	}
	reg, err := NewRegistry(append(fixtureVariables(), extra...)...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sys, err := NewSystem("fixture", "1.2.0", entities.DefaultSchema(), reg, tree)
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	return sys
}

func fixtureSimulation(t *testing.T, sys *System, opts ...Option) *Simulation {
	t.Helper()
	sim, err := NewSimulation(sys, fixtureStructure(t), opts...)
	if err != nil {
		t.Fatalf("simulation: %v", err)
	}
	return sim
}

func approxEqual(a, b Vector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		d := a[i] - b[i]
		if d > 1e-9 || d < -1e-9 {
			return false
		}
	}
	return true
}
