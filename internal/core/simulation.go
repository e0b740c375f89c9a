package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

// Mode selects how a request is matched against a variable's definition
// period.
type Mode int

const (
	// ModeAuto tries direct, then add, then divide.
	ModeAuto Mode = iota
	// ModeDirect computes the variable for exactly the requested period.
	ModeDirect
	// ModeAdd sums the variable over the subperiods of the request.
	ModeAdd
	// ModeDivide spreads the enclosing definition period's value evenly.
	ModeDivide
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeDirect:
		return "directly"
	case ModeAdd:
		return "by adding subperiods"
	case ModeDivide:
		return "by dividing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// State is the evaluation state of one (variable, period) request.
type State int

const (
	Unrequested State = iota
	InProgress
	Cached
	Failed
)

func (s State) String() string {
	switch s {
	case Unrequested:
		return "unrequested"
	case InProgress:
		return "in_progress"
	case Cached:
		return "cached"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMaxDepth bounds nested requests.
const DefaultMaxDepth = 512

// eternityDate is the parameter date used for requests over eternity.
var eternityDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type simulationOptions struct {
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	seed     uint64
	maxDepth int
	id       uuid.UUID
}

// Option configures a Simulation.
type Option func(*simulationOptions)

func defaultSimulationOptions() simulationOptions {
	return simulationOptions{
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		maxDepth: DefaultMaxDepth,
	}
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l Logger) Option {
	return func(o *simulationOptions) {
		if l == nil {
			l = noopLogger{}
		}
		o.logger = l
	}
}

// WithMetricsRecorder observes every top-level calculation.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *simulationOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer opens a span for every top-level calculation.
func WithTracer(t Tracer) Option {
	return func(o *simulationOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithSeed seeds the simulation's random draws. Every draw takes its own
// stream from the seed and the request that made it, so results do not depend
// on evaluation order.
func WithSeed(seed uint64) Option {
	return func(o *simulationOptions) { o.seed = seed }
}

// WithMaxDepth bounds the depth of nested requests.
func WithMaxDepth(n int) Option {
	return func(o *simulationOptions) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithID fixes the simulation identifier.
func WithID(id uuid.UUID) Option {
	return func(o *simulationOptions) { o.id = id }
}

type cacheKey struct {
	name   string
	period string
}

func keyOf(name string, p period.Period) cacheKey {
	return cacheKey{name: name, period: p.String()}
}

func (k cacheKey) String() string { return k.name + "@" + k.period }

// Simulation evaluates variables of one system over one population. It
// memoises every (variable, period) result and is not safe for concurrent
// use; independent simulations share no mutable state.
type Simulation struct {
	id          uuid.UUID
	system      *System
	structure   *entities.Structure
	populations map[entities.Kind]*Population

	inputs     map[cacheKey]Vector
	inputSpans map[string][]period.Period
	cache      map[cacheKey]Vector
	failed     map[cacheKey]error
	inProgress map[cacheKey]struct{}
	stack      []cacheKey
	maxDepth   int
	seed       uint64
	draws      map[cacheKey]int
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
}

// NewSimulation prepares a simulation of system over structure.
func NewSimulation(system *System, structure *entities.Structure, opts ...Option) (*Simulation, error) {
	if system == nil || structure == nil {
		return nil, fmt.Errorf("core: simulation needs a system and a structure")
	}
	o := defaultSimulationOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}
	s := &Simulation{
		id:          o.id,
		system:      system,
		structure:   structure,
		populations: make(map[entities.Kind]*Population),
		inputs:      make(map[cacheKey]Vector),
		inputSpans:  make(map[string][]period.Period),
		cache:       make(map[cacheKey]Vector),
		failed:      make(map[cacheKey]error),
		inProgress:  make(map[cacheKey]struct{}),
		maxDepth:    o.maxDepth,
		seed:        o.seed,
		draws:       make(map[cacheKey]int),
		logger:      o.logger,
		metrics:     o.metrics,
		tracer:      o.tracer,
	}
	for _, k := range system.Schema().Kinds() {
		s.populations[k] = &Population{sim: s, kind: k}
	}
	return s, nil
}

func (s *Simulation) ID() uuid.UUID { return s.id }

func (s *Simulation) System() *System { return s.system }

func (s *Simulation) Structure() *entities.Structure { return s.structure }

// Population returns the view of one entity kind.
func (s *Simulation) Population(kind entities.Kind) (*Population, error) {
	p, ok := s.populations[kind]
	if !ok {
		return nil, entities.UnknownKindError{Kind: kind}
	}
	return p, nil
}

// Parameters returns the system's parameters as of the start of p.
func (s *Simulation) Parameters(p period.Period) parameters.Snapshot {
	return s.system.Parameters().At(paramDate(p))
}

func paramDate(p period.Period) time.Time {
	if p.IsEternity() {
		return eternityDate
	}
	return p.Start()
}

// SetInput records externally supplied values for name at p. Inputs override
// formulas for the exact period. An input for a period coarser than the
// variable's definition is spread over its subperiods: numeric values are
// divided evenly, booleans and enums are copied. Setting an input discards
// every memoised result.
func (s *Simulation) SetInput(name string, p period.Period, vals []float64) error {
	v, err := s.system.Registry().Get(name)
	if err != nil {
		return err
	}
	n := s.structure.Len(v.Entity)
	if len(vals) != n {
		return InputLengthError{Variable: name, Entity: v.Entity, Want: n, Got: len(vals)}
	}
	in := Vector(vals).Clone()
	if v.ValueType == Bool {
		in = in.compare(0, func(a, b float64) bool { return a != b })
	}
	s.resetCaches()
	if v.Definition == period.Eternity {
		s.storeInput(name, period.ForEternity(), in)
		return nil
	}
	if p.IsEternity() || p.Unit() < v.Definition {
		return PeriodMismatchError{Variable: name, Definition: v.Definition, Requested: p, Mode: ModeDirect}
	}
	subs, err := p.Subperiods(v.Definition)
	if err != nil {
		return err
	}
	if len(subs) == 1 {
		s.storeInput(name, subs[0], in)
		return nil
	}
	part := in
	if v.ValueType == Float || v.ValueType == Int {
		part = in.Scale(1 / float64(len(subs)))
	}
	for _, sub := range subs {
		s.storeInput(name, sub, part.Clone())
	}
	return nil
}

// SetInputLabels records an enum input given as labels.
func (s *Simulation) SetInputLabels(name string, p period.Period, labels []string) error {
	v, err := s.system.Registry().Get(name)
	if err != nil {
		return err
	}
	if v.ValueType != Enum {
		return fmt.Errorf("core: variable %s is %s, not enum", name, v.ValueType)
	}
	codes, err := v.Encode(labels)
	if err != nil {
		return err
	}
	return s.SetInput(name, p, codes)
}

func (s *Simulation) storeInput(name string, p period.Period, vals Vector) {
	k := keyOf(name, p)
	if _, seen := s.inputs[k]; !seen {
		s.inputSpans[name] = append(s.inputSpans[name], p)
	}
	s.inputs[k] = vals
}

func (s *Simulation) resetCaches() {
	s.cache = make(map[cacheKey]Vector)
	s.failed = make(map[cacheKey]error)
	s.draws = make(map[cacheKey]int)
}

// stream returns the random source for the next draw of kind made by the
// innermost request. Draws outside any request share the zero key.
func (s *Simulation) stream(kind entities.Kind) *rand.Rand {
	var k cacheKey
	if len(s.stack) > 0 {
		k = s.stack[len(s.stack)-1]
	}
	n := s.draws[k]
	s.draws[k] = n + 1
	h := xxhash.Sum64String(k.String() + "|" + string(kind) + "|" + strconv.Itoa(n))
	return rand.New(rand.NewPCG(s.seed, h))
}

// HasInput reports whether an input was supplied for name at exactly p.
func (s *Simulation) HasInput(name string, p period.Period) bool {
	_, ok := s.inputs[keyOf(name, p)]
	return ok
}

// State reports the evaluation state of name at p.
func (s *Simulation) State(name string, p period.Period) State {
	k := keyOf(name, p)
	if _, ok := s.inProgress[k]; ok {
		return InProgress
	}
	if _, ok := s.cache[k]; ok {
		return Cached
	}
	if _, ok := s.failed[k]; ok {
		return Failed
	}
	return Unrequested
}

// Calculate resolves name at p, choosing the access mode automatically.
func (s *Simulation) Calculate(ctx context.Context, name string, p period.Period) (Vector, error) {
	return s.Compute(ctx, name, p, ModeAuto)
}

// CalculateDirect resolves name for exactly p.
func (s *Simulation) CalculateDirect(ctx context.Context, name string, p period.Period) (Vector, error) {
	return s.Compute(ctx, name, p, ModeDirect)
}

// CalculateAdd sums name over the subperiods of p.
func (s *Simulation) CalculateAdd(ctx context.Context, name string, p period.Period) (Vector, error) {
	return s.Compute(ctx, name, p, ModeAdd)
}

// CalculateDivide spreads the value of the definition period enclosing p.
func (s *Simulation) CalculateDivide(ctx context.Context, name string, p period.Period) (Vector, error) {
	return s.Compute(ctx, name, p, ModeDivide)
}

// CalculateLabels resolves an enum variable and decodes it.
func (s *Simulation) CalculateLabels(ctx context.Context, name string, p period.Period) ([]string, error) {
	v, err := s.system.Registry().Get(name)
	if err != nil {
		return nil, err
	}
	if v.ValueType != Enum {
		return nil, fmt.Errorf("core: variable %s is %s, not enum", name, v.ValueType)
	}
	vals, err := s.Calculate(ctx, name, p)
	if err != nil {
		return nil, err
	}
	return v.Decode(vals), nil
}

// Compute resolves name at p in the given mode. The returned vector is a copy
// the caller may modify.
func (s *Simulation) Compute(ctx context.Context, name string, p period.Period, mode Mode) (out Vector, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := "calculate:" + name
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, time.Since(start))
		if err != nil {
			s.logger.Debug("calculation failed", "simulation", s.id.String(), "variable", name, "period", p.String(), "error", err)
		}
	}()
	s.logger.Debug("calculate", "simulation", s.id.String(), "variable", name, "period", p.String(), "mode", mode.String())
	out, err = s.calculate(name, p, mode)
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func (s *Simulation) calculate(name string, p period.Period, mode Mode) (Vector, error) {
	v, err := s.system.Registry().Get(name)
	if err != nil {
		return nil, err
	}
	if mode != ModeAuto {
		if err := s.legal(v, p, mode); err != nil {
			return nil, err
		}
		return s.run(v, p, mode)
	}
	var last error
	for _, m := range []Mode{ModeDirect, ModeAdd, ModeDivide} {
		if err := s.legal(v, p, m); err != nil {
			last = err
			continue
		}
		return s.run(v, p, m)
	}
	return nil, last
}

// legal reports, as a PeriodMismatchError, whether mode can serve p for v.
func (s *Simulation) legal(v *Variable, p period.Period, mode Mode) error {
	mismatch := PeriodMismatchError{Variable: v.Name, Definition: v.Definition, Requested: p, Mode: mode}
	def := v.Definition
	switch mode {
	case ModeDirect:
		if def == period.Eternity || (p.Unit() == def && p.Size() == 1) {
			return nil
		}
	case ModeAdd:
		if def != period.Eternity && !p.IsEternity() && p.Unit() >= def && v.ValueType != Enum {
			return nil
		}
	case ModeDivide:
		if def == period.Eternity || p.IsEternity() || p.Unit() >= def {
			return mismatch
		}
		if v.ValueType != Float && v.ValueType != Int {
			return mismatch
		}
		if containing(p, def).Contains(p) {
			return nil
		}
	}
	return mismatch
}

func (s *Simulation) run(v *Variable, p period.Period, mode Mode) (Vector, error) {
	switch mode {
	case ModeAdd:
		return s.add(v, p)
	case ModeDivide:
		return s.divide(v, p)
	default:
		if v.Definition == period.Eternity {
			p = period.ForEternity()
		}
		return s.resolve(v, p)
	}
}

// containing is the single definition-unit period holding the start of p.
func containing(p period.Period, u period.Unit) period.Period {
	switch u {
	case period.Year:
		return p.ThisYear()
	case period.Month:
		return p.FirstMonth()
	default:
		return period.New(u, p.Start(), 1)
	}
}

// add sums v over the definition-unit subperiods of p. Booleans are true only
// when true in every subperiod. The sum itself is not memoised; the
// subperiods are.
func (s *Simulation) add(v *Variable, p period.Period) (Vector, error) {
	subs, err := p.Subperiods(v.Definition)
	if err != nil {
		return nil, PeriodMismatchError{Variable: v.Name, Definition: v.Definition, Requested: p, Mode: ModeAdd}
	}
	total := Filled(s.structure.Len(v.Entity), 0)
	for _, sub := range subs {
		part, err := s.resolve(v, sub)
		if err != nil {
			return nil, err
		}
		total = total.Add(part)
	}
	if v.ValueType == Bool {
		return total.EQ(float64(len(subs))), nil
	}
	return total, nil
}

// divide takes the value over the enclosing definition period and scales it
// to the share of that period p covers.
func (s *Simulation) divide(v *Variable, p period.Period) (Vector, error) {
	container := containing(p, v.Definition)
	whole, err := s.resolve(v, container)
	if err != nil {
		return nil, err
	}
	n, err := container.Count(p.Unit())
	if err != nil {
		return nil, err
	}
	return whole.Scale(float64(p.Size()) / float64(n)), nil
}

func (s *Simulation) stackNames(k cacheKey) []string {
	out := make([]string, 0, len(s.stack)+1)
	for _, e := range s.stack {
		out = append(out, e.String())
	}
	return append(out, k.String())
}

// resolve is the memoised computation of v at exactly p.
func (s *Simulation) resolve(v *Variable, p period.Period) (Vector, error) {
	k := keyOf(v.Name, p)
	if out, ok := s.cache[k]; ok {
		return out, nil
	}
	if err, ok := s.failed[k]; ok {
		return nil, err
	}
	if _, busy := s.inProgress[k]; busy {
		return nil, CircularDependencyError{Variable: v.Name, Period: p, Stack: s.stackNames(k)}
	}
	if len(s.stack) >= s.maxDepth {
		return nil, RecursionLimitError{Variable: v.Name, Period: p, Depth: s.maxDepth}
	}
	s.inProgress[k] = struct{}{}
	s.stack = append(s.stack, k)
	delete(s.draws, k)
	defer func() {
		delete(s.inProgress, k)
		s.stack = s.stack[:len(s.stack)-1]
	}()

	out, err := s.compute(v, p)
	if err != nil {
		s.failed[k] = err
		return nil, err
	}
	if v.ValueType == Bool {
		out = out.compare(0, func(a, b float64) bool { return a != b })
	}
	if v.Perturb != nil {
		out = v.Perturb.apply(out)
	}
	s.cache[k] = out
	return out, nil
}

func (s *Simulation) compute(v *Variable, p period.Period) (Vector, error) {
	n := s.structure.Len(v.Entity)
	if v.Neutralized {
		return Filled(n, v.Default), nil
	}
	if in, ok := s.inputs[keyOf(v.Name, p)]; ok {
		return in.Clone(), nil
	}
	if f := v.formulaAt(p); f != nil {
		pop := s.populations[v.Entity]
		if pop == nil {
			return nil, entities.UnknownKindError{Kind: v.Entity}
		}
		out, err := f(pop, p, s.Parameters(p))
		if err != nil {
			return nil, err
		}
		if len(out) != n {
			return nil, fmt.Errorf("formula for %s at %s returned %d values for %d %s instances", v.Name, p, len(out), n, v.Entity)
		}
		return out, nil
	}
	if v.Uprating != "" {
		out, ok, err := s.uprateInput(v, p)
		if err != nil {
			return nil, err
		}
		if ok {
			return out, nil
		}
	}
	if v.NoDefault {
		return nil, NoApplicableFormulaError{Variable: v.Name, Period: p}
	}
	return Filled(n, v.Default), nil
}

// uprateInput carries the latest input before p forward by the ratio of the
// uprating index at p to the index at the input's period.
func (s *Simulation) uprateInput(v *Variable, p period.Period) (Vector, bool, error) {
	var src period.Period
	found := false
	for _, q := range s.inputSpans[v.Name] {
		if q.Unit() != p.Unit() || q.IsEternity() || !q.Start().Before(p.Start()) {
			continue
		}
		if !found || q.Start().After(src.Start()) {
			src, found = q, true
		}
	}
	if !found {
		return nil, false, nil
	}
	tree := s.system.Parameters()
	now, err := tree.Resolve(v.Uprating, p.Start())
	if err != nil {
		return nil, false, fmt.Errorf("uprate %s: %w", v.Name, err)
	}
	then, err := tree.Resolve(v.Uprating, src.Start())
	if err != nil {
		return nil, false, fmt.Errorf("uprate %s: %w", v.Name, err)
	}
	base := s.inputs[keyOf(v.Name, src)]
	if then == 0 {
		return base.Clone(), true, nil
	}
	return base.Scale(now / then), true, nil
}

// Trace renders the current request stack, innermost last.
func (s *Simulation) Trace() string {
	parts := make([]string, len(s.stack))
	for i, k := range s.stack {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}
