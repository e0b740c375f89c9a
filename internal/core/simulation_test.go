package core

import (
	"context"
	"errors"
	"testing"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

func TestHouseholdIncomeSumsMembers(t *testing.T) {
	ctx := context.Background()
	y := period.ForYear(2020)
	for _, order := range [][]string{{"p1", "p2", "p3"}, {"p3", "p2", "p1"}} {
		sim, err := NewSimulation(fixtureSystem(t), fixtureStructure(t, order...))
		if err != nil {
			t.Fatalf("simulation: %v", err)
		}
		income := map[string]float64{"p1": 1000, "p2": 2000, "p3": 0}
		vals := make([]float64, len(order))
		for i, p := range order {
			vals[i] = income[p]
		}
		if err := sim.SetInput("employment_income", y, vals); err != nil {
			t.Fatalf("set input: %v", err)
		}
		got, err := sim.Calculate(ctx, "household_income", y)
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if len(got) != 1 || got[0] != 3000 {
			t.Fatalf("order %v: household income %v, want [3000]", order, got)
		}
	}
}

func TestMemoisationComputesOnce(t *testing.T) {
	calls := 0
	counted := yearly("counted", entities.Person, func(pop *Population, _ period.Period, _ parameters.Snapshot) (Vector, error) {
		calls++
		return pop.Filled(float64(calls)), nil
	})
	sim := fixtureSimulation(t, fixtureSystem(t, counted))
	y := period.ForYear(2020)
	if st := sim.State("counted", y); st != Unrequested {
		t.Fatalf("state before: %s", st)
	}
	first, err := sim.Calculate(context.Background(), "counted", y)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	first[0] = -1
	second, err := sim.Calculate(context.Background(), "counted", y)
	if err != nil {
		t.Fatalf("calculate again: %v", err)
	}
	if calls != 1 || second[0] != 1 {
		t.Fatalf("expected one computation and an unmodified cache, calls=%d second=%v", calls, second)
	}
	if st := sim.State("counted", y); st != Cached {
		t.Fatalf("state after: %s", st)
	}
}

func TestSamePeriodCycleFails(t *testing.T) {
	a := yearly("a", entities.Person, func(pop *Population, p period.Period, _ parameters.Snapshot) (Vector, error) {
		return pop.Calc("b", p)
	})
	b := yearly("b", entities.Person, func(pop *Population, p period.Period, _ parameters.Snapshot) (Vector, error) {
		return pop.Calc("a", p)
	})
	sim := fixtureSimulation(t, fixtureSystem(t, a, b))
	_, err := sim.Calculate(context.Background(), "a", period.ForYear(2020))
	var cycle CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	if cycle.Variable != "a" || len(cycle.Stack) != 3 || cycle.Stack[0] != "a@2020" {
		t.Fatalf("unexpected cycle report: %+v", cycle)
	}
	if st := sim.State("a", period.ForYear(2020)); st != Failed {
		t.Fatalf("failure not cached: %s", st)
	}
}

func savingsVariable() *Variable {
	return yearly("savings", entities.Person, func(pop *Population, p period.Period, _ parameters.Snapshot) (Vector, error) {
		prev, err := pop.Calc("savings", p.LastYear())
		if err != nil {
			return nil, err
		}
		return prev.AddConst(100), nil
	})
}

func TestCrossPeriodRecursionTerminatesAtInput(t *testing.T) {
	sim := fixtureSimulation(t, fixtureSystem(t, savingsVariable()))
	if err := sim.SetInput("savings", period.ForYear(2017), []float64{0, 50, 1000}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	got, err := sim.Calculate(context.Background(), "savings", period.ForYear(2020))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !approxEqual(got, Vector{300, 350, 1300}) {
		t.Fatalf("savings: %v", got)
	}
}

func TestCrossPeriodRecursionWithoutBaseCaseHitsLimit(t *testing.T) {
	sim := fixtureSimulation(t, fixtureSystem(t, savingsVariable()), WithMaxDepth(20))
	_, err := sim.Calculate(context.Background(), "savings", period.ForYear(2020))
	var limit RecursionLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected RecursionLimitError, got %v", err)
	}
	var cycle CircularDependencyError
	if errors.As(err, &cycle) {
		t.Fatalf("cross-period recursion must not be reported as a cycle")
	}
}

func TestBooleanAddRequiresEverySubperiod(t *testing.T) {
	sim := fixtureSimulation(t, fixtureSystem(t))
	y := period.ForYear(2020)
	months, _ := y.Subperiods(period.Month)
	for i, m := range months {
		first := 1.0
		if i == 11 {
			first = 0
		}
		if err := sim.SetInput("in_work", m, []float64{first, 1, 0}); err != nil {
			t.Fatalf("set input: %v", err)
		}
	}
	got, err := sim.Calculate(context.Background(), "in_work", y)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !approxEqual(got, Vector{0, 1, 0}) {
		t.Fatalf("in_work over year: %v, want [0 1 0]", got)
	}
}

func TestAccessModes(t *testing.T) {
	ctx := context.Background()
	sim := fixtureSimulation(t, fixtureSystem(t))
	y := period.ForYear(2020)
	if err := sim.SetInput("employment_income", y, []float64{1200, 2400, 0}); err != nil {
		t.Fatalf("set input: %v", err)
	}

	march := period.ForMonth(2020, 3)
	got, err := sim.Calculate(ctx, "employment_income", march)
	if err != nil {
		t.Fatalf("divide: %v", err)
	}
	if !approxEqual(got, Vector{100, 200, 0}) {
		t.Fatalf("monthly share: %v", got)
	}
	quarter := period.New(period.Month, march.Start(), 3)
	if got, _ = sim.CalculateDivide(ctx, "employment_income", quarter); !approxEqual(got, Vector{300, 600, 0}) {
		t.Fatalf("quarter share: %v", got)
	}

	var mismatch PeriodMismatchError
	if _, err := sim.CalculateDirect(ctx, "employment_income", march); !errors.As(err, &mismatch) || mismatch.Mode != ModeDirect {
		t.Fatalf("expected direct mismatch, got %v", err)
	}
	if _, err := sim.CalculateAdd(ctx, "tenure", period.New(period.Year, y.Start(), 2)); !errors.As(err, &mismatch) {
		t.Fatalf("enums cannot be added, got %v", err)
	}
	if _, err := sim.Calculate(ctx, "in_work", period.ForDay(2020, 3, 4)); !errors.As(err, &mismatch) || mismatch.Mode != ModeDivide {
		t.Fatalf("booleans cannot be divided, got %v", err)
	}

	// eternity variables answer any period
	age, err := sim.Calculate(ctx, "age", march)
	if err != nil || !approxEqual(age, Vector{30, 30, 30}) {
		t.Fatalf("age: %v %v", age, err)
	}
}

func TestInputCoarserThanDefinitionIsSpread(t *testing.T) {
	ctx := context.Background()
	sim := fixtureSimulation(t, fixtureSystem(t))
	y := period.ForYear(2021)
	if err := sim.SetInput("monthly_rent", y, []float64{1200}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	got, err := sim.Calculate(ctx, "monthly_rent", period.ForMonth(2021, 7))
	if err != nil || !approxEqual(got, Vector{100}) {
		t.Fatalf("rent in july: %v %v", got, err)
	}
	annual, err := sim.Calculate(ctx, "monthly_rent", y)
	if err != nil || !approxEqual(annual, Vector{1200}) {
		t.Fatalf("annual rent: %v %v", annual, err)
	}
	if err := sim.SetInput("monthly_rent", y, []float64{1, 2}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestInputOverridesFormula(t *testing.T) {
	sim := fixtureSimulation(t, fixtureSystem(t))
	y := period.ForYear(2020)
	if err := sim.SetInput("total_income", y, []float64{7, 8, 9}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	got, err := sim.Calculate(context.Background(), "total_income", y)
	if err != nil || !approxEqual(got, Vector{7, 8, 9}) {
		t.Fatalf("input should win: %v %v", got, err)
	}
}

func TestParametersFollowRequestDate(t *testing.T) {
	ctx := context.Background()
	sim := fixtureSimulation(t, fixtureSystem(t))
	for year, want := range map[int]float64{2020: 100, 2021: 120} {
		got, err := sim.Calculate(ctx, "allowance", period.ForYear(year))
		if err != nil {
			t.Fatalf("allowance %d: %v", year, err)
		}
		if !approxEqual(got, Vector{want, want}) {
			t.Fatalf("allowance %d: %v", year, got)
		}
	}
	if _, err := sim.Calculate(ctx, "allowance", period.ForYear(2010)); err == nil {
		t.Fatalf("expected undefined parameter error")
	} else {
		var undefined parameters.ParameterUndefinedAtDateError
		if !errors.As(err, &undefined) {
			t.Fatalf("expected ParameterUndefinedAtDateError, got %v", err)
		}
	}
}

func TestFormulaHistoryAndDefaults(t *testing.T) {
	ctx := context.Background()
	bonus := yearly("bonus", entities.Person, nil)
	bonus.Default = 5
	bonus.Formulas = []FormulaSpan{
		{Start: parameters.Date(2021, 1, 1), Formula: func(pop *Population, _ period.Period, _ parameters.Snapshot) (Vector, error) {
			return pop.Filled(50), nil
		}},
		{Start: parameters.Date(2023, 1, 1)},
	}
	strict := yearly("strict", entities.Person, nil)
	strict.NoDefault = true
	sim := fixtureSimulation(t, fixtureSystem(t, bonus, strict))

	for year, want := range map[int]float64{2020: 5, 2021: 50, 2022: 50, 2023: 5} {
		got, err := sim.Calculate(ctx, "bonus", period.ForYear(year))
		if err != nil || got[0] != want {
			t.Fatalf("bonus %d: %v %v, want %v", year, got, err, want)
		}
	}
	var none NoApplicableFormulaError
	if _, err := sim.Calculate(ctx, "strict", period.ForYear(2020)); !errors.As(err, &none) {
		t.Fatalf("expected NoApplicableFormulaError, got %v", err)
	}
	var unknown UnknownVariableError
	if _, err := sim.Calculate(ctx, "missing", period.ForYear(2020)); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownVariableError, got %v", err)
	}
}

func TestUpratedInput(t *testing.T) {
	pension := yearly("pension", entities.Person, nil)
	pension.Uprating = "benefits.cpi"
	sim := fixtureSimulation(t, fixtureSystem(t, pension))
	if err := sim.SetInput("pension", period.ForYear(2019), []float64{1000, 0, 500}); err != nil {
		t.Fatalf("set input: %v", err)
	}
	got, err := sim.Calculate(context.Background(), "pension", period.ForYear(2020))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !approxEqual(got, Vector{1100, 0, 550}) {
		t.Fatalf("uprated pension: %v", got)
	}
}

func TestEntityMismatchAndLabels(t *testing.T) {
	ctx := context.Background()
	wrong := yearly("wrong", entities.Household, func(pop *Population, p period.Period, _ parameters.Snapshot) (Vector, error) {
		return pop.Calc("employment_income", p)
	})
	sim := fixtureSimulation(t, fixtureSystem(t, wrong))
	var mismatch EntityMismatchError
	if _, err := sim.Calculate(ctx, "wrong", period.ForYear(2020)); !errors.As(err, &mismatch) {
		t.Fatalf("expected EntityMismatchError, got %v", err)
	}

	if err := sim.SetInputLabels("tenure", period.ForYear(2020), []string{"RENTER"}); err != nil {
		t.Fatalf("set labels: %v", err)
	}
	labels, err := sim.CalculateLabels(ctx, "tenure", period.ForYear(2020))
	if err != nil || labels[0] != "RENTER" {
		t.Fatalf("labels: %v %v", labels, err)
	}
	defaults, err := sim.CalculateLabels(ctx, "tenure", period.ForYear(2019))
	if err != nil || defaults[0] != "OWNER" {
		t.Fatalf("default label: %v %v", defaults, err)
	}
	var unknown UnknownLabelError
	if err := sim.SetInputLabels("tenure", period.ForYear(2020), []string{"CASTLE"}); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownLabelError, got %v", err)
	}
}

func TestRandomIsSeededPerSimulation(t *testing.T) {
	draw := func(seed uint64) Vector {
		sim := fixtureSimulation(t, fixtureSystem(t), WithSeed(seed))
		pop, err := sim.Population(entities.Person)
		if err != nil {
			t.Fatalf("population: %v", err)
		}
		return pop.Random()
	}
	a, b, c := draw(7), draw(7), draw(8)
	if !approxEqual(a, b) {
		t.Fatalf("same seed produced different draws: %v %v", a, b)
	}
	if approxEqual(a, c) {
		t.Fatalf("different seeds produced identical draws")
	}
	for _, x := range a {
		if x < 0 || x >= 1 {
			t.Fatalf("draw out of range: %v", x)
		}
	}
}

func TestRandomDrawsIgnoreEvaluationOrder(t *testing.T) {
	ctx := context.Background()
	y := period.ForYear(2020)
	draw := func(pop *Population, _ period.Period, _ parameters.Snapshot) (Vector, error) {
		return pop.Random(), nil
	}
	twice := func(pop *Population, _ period.Period, _ parameters.Snapshot) (Vector, error) {
		return pop.Random().Sub(pop.Random()), nil
	}
	sys := fixtureSystem(t,
		yearly("takeup_a", entities.Person, draw),
		yearly("takeup_b", entities.Person, draw),
		yearly("two_draws", entities.Person, twice),
	)

	first := fixtureSimulation(t, sys, WithSeed(7))
	a1, err := first.Calculate(ctx, "takeup_a", y)
	if err != nil {
		t.Fatalf("takeup_a: %v", err)
	}
	b1, err := first.Calculate(ctx, "takeup_b", y)
	if err != nil {
		t.Fatalf("takeup_b: %v", err)
	}

	second := fixtureSimulation(t, sys, WithSeed(7))
	b2, err := second.Calculate(ctx, "takeup_b", y)
	if err != nil {
		t.Fatalf("takeup_b: %v", err)
	}
	a2, err := second.Calculate(ctx, "takeup_a", y)
	if err != nil {
		t.Fatalf("takeup_a: %v", err)
	}
	if !approxEqual(a1, a2) || !approxEqual(b1, b2) {
		t.Fatalf("draws depend on order: %v/%v %v/%v", a1, a2, b1, b2)
	}
	if approxEqual(a1, b1) {
		t.Fatalf("different variables share draws: %v", a1)
	}
	if got, _ := first.Calculate(ctx, "takeup_a", period.ForYear(2021)); approxEqual(got, a1) {
		t.Fatalf("different periods share draws: %v", got)
	}

	// repeated draws inside one formula differ, and are stable after a reset
	d1, err := first.Calculate(ctx, "two_draws", y)
	if err != nil {
		t.Fatalf("two_draws: %v", err)
	}
	for _, x := range d1 {
		if x == 0 {
			t.Fatalf("second draw repeated the first: %v", d1)
		}
	}
	if err := first.SetInput("employment_income", y, []float64{1, 2, 3}); err != nil {
		t.Fatalf("input: %v", err)
	}
	d2, err := first.Calculate(ctx, "two_draws", y)
	if err != nil || !approxEqual(d1, d2) {
		t.Fatalf("recomputed draws changed: %v %v %v", d1, d2, err)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{Unrequested: "unrequested", InProgress: "in_progress", Cached: "cached", Failed: "failed", State(9): "state(9)"} {
		if got := st.String(); got != want {
			t.Fatalf("%d: got %q want %q", int(st), got, want)
		}
	}
}

func TestCalculateHonoursCancelledContext(t *testing.T) {
	sim := fixtureSimulation(t, fixtureSystem(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sim.Calculate(ctx, "total_income", period.ForYear(2020)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
