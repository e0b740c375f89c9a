package microsim

import (
	"runtime"

	"microsim/internal/core"
	"microsim/pkg/dataset"
	"microsim/pkg/entities"
)

// DefaultYear is the period used when neither an option nor a query names one.
const DefaultYear = 2022

// DefaultGroupLimit is how many members per group get their own derivative
// sibling.
const DefaultGroupLimit = 2

type options struct {
	year       int
	reforms    []core.Reform
	relations  dataset.Relations
	weights    map[entities.Kind]string
	logger     core.Logger
	metrics    core.MetricsRecorder
	tracer     core.Tracer
	seed       uint64
	workers    int
	groupLimit int
	maxDepth   int
}

func defaultOptions() options {
	return options{
		year:      DefaultYear,
		relations: dataset.DefaultRelations(),
		weights: map[entities.Kind]string{
			entities.Person:    "person_weight",
			entities.BenUnit:   "benunit_weight",
			entities.Household: "household_weight",
		},
		logger:     nopLogger{},
		workers:    runtime.GOMAXPROCS(0),
		groupLimit: DefaultGroupLimit,
	}
}

// Option configures a Microsimulation.
type Option func(*options)

// WithYear sets the default year of queries and of the relation arrays.
func WithYear(year int) Option {
	return func(o *options) { o.year = year }
}

// WithReform applies reforms, in order, to the base system.
func WithReform(reforms ...core.Reform) Option {
	return func(o *options) { o.reforms = append(o.reforms, reforms...) }
}

// WithRelations names the dataset's identifier and membership variables.
func WithRelations(rel dataset.Relations) Option {
	return func(o *options) { o.relations = rel }
}

// WithWeightVariables sets the sampling weight variable per entity. Entities
// without one are weighted uniformly.
func WithWeightVariables(weights map[entities.Kind]string) Option {
	return func(o *options) {
		o.weights = make(map[entities.Kind]string, len(weights))
		for k, v := range weights {
			o.weights[k] = v
		}
	}
}

// WithLogger sets the logger used by the façade and its simulations.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder observes top-level calculations.
func WithMetricsRecorder(m core.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer traces top-level calculations.
func WithTracer(t core.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithSeed seeds the random source of the simulation and of every sibling.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithWorkers bounds how many derivative siblings are computed at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithGroupLimit sets how many members per group are perturbed in group
// derivatives.
func WithGroupLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.groupLimit = n
		}
	}
}

// WithMaxDepth bounds nested variable requests.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
