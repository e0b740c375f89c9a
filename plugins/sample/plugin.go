// Package sample is a small reference content pack: a personal income tax
// with an uprated allowance, interest on last year's savings, a child benefit
// with random take-up, and a regional housing allowance.
package sample

import (
	"embed"
	"fmt"

	"microsim/internal/core"
	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

//go:embed params/*.yaml
var paramFiles embed.FS

// Regions are the labels of the household region variable, in code order.
var Regions = []string{"LONDON", "NORTH", "SOUTH"}

// Plugin registers the sample variables and parameters.
type Plugin struct{}

// New constructs the sample plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "sample" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.2.0" }

// Parameters loads the embedded parameter files.
func Parameters() (*parameters.Tree, error) {
	return parameters.LoadFS(paramFiles, "params")
}

// Register adds the parameter tree and every variable of the pack.
func (Plugin) Register(registry *core.PluginRegistry) error {
	tree, err := Parameters()
	if err != nil {
		return fmt.Errorf("sample parameters: %w", err)
	}
	registry.RegisterParameters(tree)
	for _, v := range variables() {
		if err := registry.RegisterVariable(v); err != nil {
			return err
		}
	}
	return nil
}

// System builds a system containing only the sample pack.
func System() (*core.System, error) {
	sys, _, err := core.Build("sample", "0.2.0", entities.DefaultSchema(), New())
	return sys, err
}

func yearly(name string, kind entities.Kind, f core.Formula) *core.Variable {
	v := &core.Variable{Name: name, Entity: kind, ValueType: core.Float, Definition: period.Year, Unit: "currency-GBP"}
	if f != nil {
		v.Formulas = []core.FormulaSpan{{Formula: f}}
	}
	return v
}

func variables() []*core.Variable {
	employment := yearly("employment_income", entities.Person, nil)
	employment.Uprating = "indices.earnings"

	savings := yearly("savings", entities.Person, nil)

	isChild := &core.Variable{Name: "is_child", Entity: entities.Person, ValueType: core.Bool, Definition: period.Year}

	region := &core.Variable{
		Name:       "region",
		Entity:     entities.Household,
		ValueType:  core.Enum,
		Definition: period.Eternity,
		Labels:     Regions,
	}

	claims := &core.Variable{
		Name:       "claims_child_benefit",
		Entity:     entities.BenUnit,
		ValueType:  core.Bool,
		Definition: period.Year,
		Formulas:   []core.FormulaSpan{{Formula: claimsChildBenefit}},
	}

	return []*core.Variable{
		employment,
		savings,
		isChild,
		region,
		yearly("savings_interest", entities.Person, savingsInterest),
		yearly("taxable_income", entities.Person, core.SumOf("employment_income", "savings_interest")),
		yearly("income_tax", entities.Person, incomeTax),
		yearly("child_benefit_entitlement", entities.BenUnit, childBenefitEntitlement),
		claims,
		yearly("child_benefit", entities.BenUnit, childBenefit),
		yearly("household_market_income", entities.Household, func(pop *core.Population, p period.Period, _ parameters.Snapshot) (core.Vector, error) {
			return core.Aggr(pop, p, "employment_income", "savings_interest")
		}),
		yearly("housing_allowance", entities.Household, housingAllowance),
		yearly("benunit_net_income", entities.BenUnit, benunitNetIncome),
		yearly("household_weight", entities.Household, nil),
	}
}

func savingsInterest(pop *core.Population, p period.Period, params parameters.Snapshot) (core.Vector, error) {
	balance, err := pop.Calc("savings", p.LastYear())
	if err != nil {
		return nil, err
	}
	rate, err := params.Float("tax.savings_rate")
	if err != nil {
		return nil, err
	}
	return balance.Floor().Scale(rate), nil
}

func incomeTax(pop *core.Population, p period.Period, params parameters.Snapshot) (core.Vector, error) {
	income, err := pop.Calc("taxable_income", p)
	if err != nil {
		return nil, err
	}
	allowance, err := params.Float("tax.personal_allowance")
	if err != nil {
		return nil, err
	}
	scale, err := params.Scale("tax.rates")
	if err != nil {
		return nil, err
	}
	return core.Vector(scale.Calc(income.AddConst(-allowance).Floor())), nil
}

func childBenefitEntitlement(pop *core.Population, p period.Period, params parameters.Snapshot) (core.Vector, error) {
	children, err := pop.Persons().Calc("is_child", p)
	if err != nil {
		return nil, err
	}
	count, err := pop.Sum(children)
	if err != nil {
		return nil, err
	}
	amount, err := params.Float("benefit.child_benefit.amount")
	if err != nil {
		return nil, err
	}
	return count.Scale(amount), nil
}

// claimsChildBenefit draws take-up from the simulation's random source, so a
// seeded simulation always makes the same draws.
func claimsChildBenefit(pop *core.Population, _ period.Period, params parameters.Snapshot) (core.Vector, error) {
	rate, err := params.Float("benefit.child_benefit.take_up_rate")
	if err != nil {
		return nil, err
	}
	return pop.Random().LT(rate), nil
}

func childBenefit(pop *core.Population, p period.Period, _ parameters.Snapshot) (core.Vector, error) {
	entitled, err := pop.Calc("child_benefit_entitlement", p)
	if err != nil {
		return nil, err
	}
	claims, err := pop.Calc("claims_child_benefit", p)
	if err != nil {
		return nil, err
	}
	return entitled.Mul(claims), nil
}

func housingAllowance(pop *core.Population, p period.Period, params parameters.Snapshot) (core.Vector, error) {
	codes, err := pop.Calc("region", p)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(codes))
	for i, c := range codes {
		labels[i] = Regions[int(c)]
	}
	multiplier, err := params.Select("benefit.housing.regional_multiplier", labels)
	if err != nil {
		return nil, err
	}
	base, err := params.Float("benefit.housing.base_amount")
	if err != nil {
		return nil, err
	}
	income, err := pop.Calc("household_market_income", p)
	if err != nil {
		return nil, err
	}
	withdrawal, err := params.Scale("benefit.housing.withdrawal")
	if err != nil {
		return nil, err
	}
	share := core.Vector(withdrawal.Calc(income))
	return core.Vector(multiplier).Scale(base).Mul(share), nil
}

func benunitNetIncome(pop *core.Population, p period.Period, _ parameters.Snapshot) (core.Vector, error) {
	market, err := core.Aggr(pop, p, "employment_income", "savings_interest")
	if err != nil {
		return nil, err
	}
	tax, err := core.Aggr(pop, p, "income_tax")
	if err != nil {
		return nil, err
	}
	benefit, err := pop.Calc("child_benefit", p)
	if err != nil {
		return nil, err
	}
	return market.Sub(tax).Add(benefit), nil
}
