package core

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

func TestEngineLawsProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)
	y := period.ForYear(2020)
	ctx := context.Background()
	incomes := gen.SliceOfN(3, gen.Float64Range(0, 1e6))

	properties.Property("calculate is idempotent", prop.ForAll(
		func(in []float64) bool {
			sim := fixtureSimulation(t, fixtureSystem(t))
			if err := sim.SetInput("employment_income", y, in); err != nil {
				return false
			}
			first, err := sim.Calculate(ctx, "income_tax", y)
			if err != nil {
				return false
			}
			second, err := sim.Calculate(ctx, "income_tax", y)
			return err == nil && approxEqual(first, second) && approxEqual(first, Vector(in).Scale(0.2))
		},
		incomes,
	))

	properties.Property("household sum ignores person order", prop.ForAll(
		func(in []float64) bool {
			forward, err := NewSimulation(fixtureSystem(t), fixtureStructure(t, "p1", "p2", "p3"))
			if err != nil {
				return false
			}
			backward, err := NewSimulation(fixtureSystem(t), fixtureStructure(t, "p3", "p2", "p1"))
			if err != nil {
				return false
			}
			if forward.SetInput("employment_income", y, in) != nil ||
				backward.SetInput("employment_income", y, []float64{in[2], in[1], in[0]}) != nil {
				return false
			}
			a, errA := forward.Calculate(ctx, "household_income", y)
			b, errB := backward.Calculate(ctx, "household_income", y)
			return errA == nil && errB == nil && math.Abs(a[0]-b[0]) < 1e-6
		},
		incomes,
	))

	properties.Property("reforms leave existing simulations alone", prop.ForAll(
		func(in []float64, rate float64) bool {
			base := fixtureSystem(t)
			sim := fixtureSimulation(t, base)
			if err := sim.SetInput("employment_income", y, in); err != nil {
				return false
			}
			before, err := sim.Calculate(ctx, "income_tax", y)
			if err != nil {
				return false
			}
			reformed, err := base.Apply(SetParameter("tax.rate", parameters.Date(2019, 1, 1), rate))
			if err != nil {
				return false
			}
			other := fixtureSimulation(t, reformed)
			if err := other.SetInput("employment_income", y, in); err != nil {
				return false
			}
			changed, err := other.Calculate(ctx, "income_tax", y)
			if err != nil || !approxEqual(changed, Vector(in).Scale(rate)) {
				return false
			}
			after, err := sim.Calculate(ctx, "income_tax", y)
			return err == nil && approxEqual(before, after)
		},
		incomes,
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
