package core

import (
	"context"
	"errors"
	"testing"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

type testPlugin struct {
	name string
	vars []*Variable
	yaml string
	fail error
}

func (p testPlugin) Name() string    { return p.name }
func (p testPlugin) Version() string { return "0.1.0" }

func (p testPlugin) Register(r *PluginRegistry) error {
	if p.fail != nil {
		return p.fail
	}
	for _, v := range p.vars {
		if err := r.RegisterVariable(v); err != nil {
			return err
		}
	}
	if p.yaml != "" {
		tree, err := parameters.Load([]byte(p.yaml))
		if err != nil {
			return err
		}
		r.RegisterParameters(tree)
	}
	return nil
}

func TestBuildAssemblesPlugins(t *testing.T) {
	incomes := testPlugin{
		name: "incomes",
		vars: []*Variable{yearly("wage", entities.Person, nil), yearly("gross", entities.Person, SumOf("wage"))},
		yaml: "rates:\n  basic:\n    values:\n      2020-01-01: 0.1\n",
	}
	taxes := testPlugin{
		name: "taxes",
		vars: []*Variable{yearly("tax", entities.Person, func(pop *Population, p period.Period, params parameters.Snapshot) (Vector, error) {
			gross, err := pop.Calc("gross", p)
			if err != nil {
				return nil, err
			}
			rate, err := params.Float("rates.basic")
			if err != nil {
				return nil, err
			}
			return gross.Scale(rate), nil
		})},
	}
	sys, meta, err := Build("plugins", "0.3.0", entities.DefaultSchema(), incomes, taxes)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(meta) != 2 || meta[0].Name != "incomes" || len(meta[0].Variables) != 2 || meta[1].Variables[0] != "tax" {
		t.Fatalf("metadata: %+v", meta)
	}
	if sys.Registry().Len() != 3 {
		t.Fatalf("registry: %v", sys.Registry().Names())
	}
	sim := fixtureSimulation(t, sys)
	y := period.ForYear(2020)
	if err := sim.SetInput("wage", y, []float64{100, 200, 300}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	got, err := sim.Calculate(context.Background(), "tax", y)
	if err != nil || !approxEqual(got, Vector{10, 20, 30}) {
		t.Fatalf("tax: %v %v", got, err)
	}
}

func TestBuildRejectsConflicts(t *testing.T) {
	a := testPlugin{name: "a", vars: []*Variable{yearly("x", entities.Person, nil)}}
	b := testPlugin{name: "b", vars: []*Variable{yearly("x", entities.Person, nil)}}
	var dup DuplicateVariableError
	if _, _, err := Build("s", "1.0.0", entities.DefaultSchema(), a, b); !errors.As(err, &dup) {
		t.Fatalf("expected duplicate variable, got %v", err)
	}
	if _, _, err := Build("s", "1.0.0", entities.DefaultSchema(), a, a); err == nil {
		t.Fatalf("expected duplicate plugin")
	}
	boom := errors.New("boom")
	if _, _, err := Build("s", "1.0.0", entities.DefaultSchema(), testPlugin{name: "c", fail: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected registration error, got %v", err)
	}
	bad := testPlugin{name: "d", vars: []*Variable{{Name: "e", Entity: "spaceship", Definition: period.Year}}}
	var unknown entities.UnknownKindError
	if _, _, err := Build("s", "1.0.0", entities.DefaultSchema(), bad); !errors.As(err, &unknown) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
}

func TestRegistryOperations(t *testing.T) {
	reg, err := NewRegistry(fixtureVariables()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	f, err := reg.FormulaFor("total_income", period.ForYear(2020))
	if err != nil || f == nil {
		t.Fatalf("formula: %v", err)
	}
	if f, err := reg.FormulaFor("employment_income", period.ForYear(2020)); err != nil || f != nil {
		t.Fatalf("input variable should have no formula and a default")
	}
	smaller := reg.Without("total_income")
	if smaller.Has("total_income") || !reg.Has("total_income") {
		t.Fatalf("Without must not modify the receiver")
	}
	if _, err := NewRegistry(yearly("x", entities.Person, nil), yearly("x", entities.Person, nil)); err == nil {
		t.Fatalf("expected duplicate")
	}
	badEnum := &Variable{Name: "e", Entity: entities.Person, ValueType: Enum, Labels: []string{"A"}, Default: 3}
	if _, err := NewRegistry(badEnum); err == nil {
		t.Fatalf("expected enum default validation")
	}
	strict := yearly("strict", entities.Person, nil)
	strict.NoDefault = true
	withStrict, err := reg.With(strict)
	if err != nil {
		t.Fatalf("with: %v", err)
	}
	var none NoApplicableFormulaError
	if _, err := withStrict.FormulaFor("strict", period.ForYear(2020)); !errors.As(err, &none) {
		t.Fatalf("expected NoApplicableFormulaError, got %v", err)
	}
	if reg.Has("strict") {
		t.Fatalf("With must not modify the receiver")
	}
}

func TestEnumLabelsNormalised(t *testing.T) {
	v := &Variable{Name: "place", Entity: entities.Person, ValueType: Enum, Labels: []string{"Zürich", "Genève"}}
	// decomposed forms of the same labels
	codes, err := v.Encode([]string{"Gene\u0300ve", "Zu\u0308rich"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if codes[0] != 1 || codes[1] != 0 {
		t.Fatalf("codes: %v", codes)
	}
	if got := v.Decode(Vector{1, 7}); got[0] != "Genève" || got[1] != "" {
		t.Fatalf("decode: %v", got)
	}
	if v.LabelIndex("Zürich") != 0 || v.LabelIndex("Bern") != -1 {
		t.Fatalf("label index")
	}
}
