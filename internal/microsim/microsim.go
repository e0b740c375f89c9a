// Package microsim runs a tax-benefit system over survey microdata: it loads a
// dataset into a simulation, answers weighted and mapped queries, and
// estimates derivatives with perturbed sibling simulations.
package microsim

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"microsim/internal/core"
	"microsim/pkg/dataset"
	"microsim/pkg/entities"
	"microsim/pkg/period"
	"microsim/pkg/weighted"
)

// SkippedInput is one dataset array that could not be loaded.
type SkippedInput struct {
	Variable string
	Period   string
	Reason   string
}

// IncompleteInputWarning lists the dataset arrays that were skipped while
// loading. The simulation continues with defaults for them.
type IncompleteInputWarning struct {
	Skipped []SkippedInput
}

func (w IncompleteInputWarning) Error() string {
	keys := make([]string, len(w.Skipped))
	for i, s := range w.Skipped {
		keys[i] = s.Variable + "@" + s.Period
	}
	return fmt.Sprintf("%d dataset inputs skipped: %s", len(w.Skipped), strings.Join(keys, ", "))
}

// Query selects the period and target entity of a calculation. A zero Period
// means the default year; an empty MapTo keeps the variable's own entity. How
// names the aggregation used by the entity transform.
type Query struct {
	Period period.Period
	MapTo  entities.Kind
	How    string
}

// Microsimulation is a simulation over a dataset plus the derivative siblings
// created from it. It is not safe for concurrent use.
type Microsimulation struct {
	system    *core.System
	data      *dataset.Data
	structure *entities.Structure
	sim       *core.Simulation
	opts      options
	year      period.Period
	warnings  []IncompleteInputWarning

	mu       sync.Mutex
	siblings map[siblingKey]*core.Simulation
}

// New applies the configured reforms to base and loads data into a new
// simulation of the result.
func New(ctx context.Context, base *core.System, data *dataset.Data, opts ...Option) (*Microsimulation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if base == nil {
		return nil, fmt.Errorf("microsim: no system")
	}
	if data == nil {
		data = dataset.New()
	}
	system, err := base.Apply(o.reforms...)
	if err != nil {
		return nil, err
	}
	year := period.ForYear(o.year)
	structure, err := data.Structure(system.Schema(), o.relations, year.String())
	if err != nil {
		return nil, err
	}
	m := &Microsimulation{
		system:    system,
		data:      data,
		structure: structure,
		opts:      o,
		year:      year,
		siblings:  make(map[siblingKey]*core.Simulation),
	}
	sim, skipped, err := m.newSimulation(system)
	if err != nil {
		return nil, err
	}
	m.sim = sim
	if len(skipped) > 0 {
		w := IncompleteInputWarning{Skipped: skipped}
		m.warnings = append(m.warnings, w)
		o.logger.Warn("incomplete dataset inputs", "simulation", sim.ID().String(), "skipped", len(skipped), "keys", w.Error())
	}
	return m, nil
}

// newSimulation builds a simulation of system and loads every non-relation
// dataset array as an input.
func (m *Microsimulation) newSimulation(system *core.System) (*core.Simulation, []SkippedInput, error) {
	simOpts := []core.Option{core.WithLogger(m.opts.logger), core.WithSeed(m.opts.seed)}
	if m.opts.metrics != nil {
		simOpts = append(simOpts, core.WithMetricsRecorder(m.opts.metrics))
	}
	if m.opts.tracer != nil {
		simOpts = append(simOpts, core.WithTracer(m.opts.tracer))
	}
	if m.opts.maxDepth > 0 {
		simOpts = append(simOpts, core.WithMaxDepth(m.opts.maxDepth))
	}
	sim, err := core.NewSimulation(system, m.structure, simOpts...)
	if err != nil {
		return nil, nil, err
	}
	var skipped []SkippedInput
	for _, name := range m.data.Variables() {
		if m.opts.relations.IsRelation(name) {
			continue
		}
		for _, ps := range m.data.Periods(name) {
			if err := loadInput(sim, m.data, name, ps); err != nil {
				skipped = append(skipped, SkippedInput{Variable: name, Period: ps, Reason: err.Error()})
			}
		}
	}
	return sim, skipped, nil
}

func loadInput(sim *core.Simulation, data *dataset.Data, name, ps string) error {
	p, err := period.Parse(ps)
	if err != nil {
		return err
	}
	if labels, ok := data.GetLabels(name, ps); ok {
		return sim.SetInputLabels(name, p, labels)
	}
	vals, _ := data.Get(name, ps)
	return sim.SetInput(name, p, vals)
}

// System is the post-reform system the simulation runs.
func (m *Microsimulation) System() *core.System { return m.system }

// Simulation exposes the underlying simulation.
func (m *Microsimulation) Simulation() *core.Simulation { return m.sim }

// Structure is the population layout read from the dataset.
func (m *Microsimulation) Structure() *entities.Structure { return m.structure }

// Year is the default query period.
func (m *Microsimulation) Year() period.Period { return m.year }

// Warnings returns the recoverable problems met while loading data.
func (m *Microsimulation) Warnings() []IncompleteInputWarning {
	return append([]IncompleteInputWarning(nil), m.warnings...)
}

func (m *Microsimulation) at(q Query) period.Period {
	if q.Period.IsZero() {
		return m.year
	}
	return q.Period
}

// CalcRaw resolves name and maps it to q.MapTo when set.
func (m *Microsimulation) CalcRaw(ctx context.Context, name string, q Query) (core.Vector, error) {
	v, err := m.system.Registry().Get(name)
	if err != nil {
		return nil, err
	}
	vals, err := m.sim.Calculate(ctx, name, m.at(q))
	if err != nil {
		return nil, err
	}
	if q.MapTo == "" {
		return vals, nil
	}
	return m.MapTo(vals, v.Entity, q.MapTo, q.How)
}

// Calc resolves name as CalcRaw does and pairs it with the sampling weights
// of the resulting entity.
func (m *Microsimulation) Calc(ctx context.Context, name string, q Query) (weighted.Series, error) {
	v, err := m.system.Registry().Get(name)
	if err != nil {
		return weighted.Series{}, err
	}
	vals, err := m.CalcRaw(ctx, name, q)
	if err != nil {
		return weighted.Series{}, err
	}
	kind := v.Entity
	if q.MapTo != "" {
		kind = q.MapTo
	}
	w, err := m.Weights(ctx, kind, m.at(q))
	if err != nil {
		return weighted.Series{}, err
	}
	return weighted.NewSeries(vals, w)
}

// CalcLabels resolves an enum variable to its labels.
func (m *Microsimulation) CalcLabels(ctx context.Context, name string, q Query) ([]string, error) {
	return m.sim.CalculateLabels(ctx, name, m.at(q))
}

var transformOps = map[string]struct{}{"": {}, "project": {}}

// MapTo moves vals from one entity to another. how must be "project" or one
// of the aggregation operators; anything else is an InvalidAggregationError.
func (m *Microsimulation) MapTo(vals core.Vector, from, to entities.Kind, how string) (core.Vector, error) {
	if _, ok := transformOps[how]; !ok {
		if _, err := entities.ParseAggregation(how); err != nil {
			return nil, entities.InvalidAggregationError{How: how, From: from, To: to}
		}
	}
	if entities.TwoHop(from, to) {
		m.opts.logger.Debug("mapping between groups through persons", "from", string(from), "to", string(to))
	}
	out, err := m.structure.Map(vals, from, to, strings.ToLower(how))
	if err != nil {
		return nil, err
	}
	return core.Vector(out), nil
}

// Weights returns the sampling weights of kind for queries at p: the
// configured weight variable, or ones when the entity has none registered.
// Weights are survey totals, so they are read for the year holding the start
// of p and never divided across months.
func (m *Microsimulation) Weights(ctx context.Context, kind entities.Kind, p period.Period) ([]float64, error) {
	name, ok := m.opts.weights[kind]
	if !ok || !m.system.Registry().Has(name) {
		return core.Filled(m.structure.Len(kind), 1), nil
	}
	year := m.year
	if !p.IsZero() && !p.IsEternity() {
		year = p.ThisYear()
	}
	return m.sim.Calculate(ctx, name, year)
}

// DF computes several variables as columns of one entity. Columns from other
// entities are mapped to q.MapTo, or to the first variable's entity.
func (m *Microsimulation) DF(ctx context.Context, names []string, q Query) (*weighted.Frame, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("microsim: no columns requested")
	}
	target := q.MapTo
	if target == "" {
		first, err := m.system.Registry().Get(names[0])
		if err != nil {
			return nil, err
		}
		target = first.Entity
	}
	w, err := m.Weights(ctx, target, m.at(q))
	if err != nil {
		return nil, err
	}
	frame := weighted.NewFrame(w)
	for _, name := range names {
		col := q
		col.MapTo = target
		vals, err := m.CalcRaw(ctx, name, col)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if err := frame.Add(name, vals); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// Siblings reports how many perturbed sibling simulations exist.
func (m *Microsimulation) Siblings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.siblings)
}
