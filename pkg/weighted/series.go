// Package weighted pairs computed arrays with survey weights and provides the
// population statistics consumers read from them.
package weighted

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LengthError reports values and weights of different lengths.
type LengthError struct {
	Values  int
	Weights int
}

func (e LengthError) Error() string {
	return fmt.Sprintf("weighted: %d values but %d weights", e.Values, e.Weights)
}

// Series is an immutable array of values with one weight per value. NaN
// values are skipped by every statistic.
type Series struct {
	values  []float64
	weights []float64
}

// NewSeries copies values and weights. A nil weights slice means every
// weight is 1.
func NewSeries(values, weights []float64) (Series, error) {
	if weights == nil {
		weights = make([]float64, len(values))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(values) != len(weights) {
		return Series{}, LengthError{Values: len(values), Weights: len(weights)}
	}
	return Series{values: append([]float64(nil), values...), weights: append([]float64(nil), weights...)}, nil
}

// Len is the number of observations.
func (s Series) Len() int { return len(s.values) }

// Values returns a copy of the values.
func (s Series) Values() []float64 { return append([]float64(nil), s.values...) }

// Weights returns a copy of the weights.
func (s Series) Weights() []float64 { return append([]float64(nil), s.weights...) }

func (s Series) valid() (vals, weights []float64) {
	vals = make([]float64, 0, len(s.values))
	weights = make([]float64, 0, len(s.values))
	for i, v := range s.values {
		if math.IsNaN(v) {
			continue
		}
		vals = append(vals, v)
		weights = append(weights, s.weights[i])
	}
	return vals, weights
}

// Sum is the weighted total.
func (s Series) Sum() float64 {
	vals, weights := s.valid()
	if len(vals) == 0 {
		return 0
	}
	return floats.Dot(vals, weights)
}

// Count is the total weight of the non-NaN observations.
func (s Series) Count() float64 {
	_, weights := s.valid()
	return floats.Sum(weights)
}

// Mean is the weighted mean, or NaN when the total weight is zero.
func (s Series) Mean() float64 {
	vals, weights := s.valid()
	total := floats.Sum(weights)
	if total == 0 {
		return math.NaN()
	}
	return floats.Dot(vals, weights) / total
}

// Quantile returns the weighted empirical quantile q in [0, 1].
func (s Series) Quantile(q float64) (float64, error) {
	if q < 0 || q > 1 || math.IsNaN(q) {
		return 0, fmt.Errorf("weighted: quantile %v outside [0, 1]", q)
	}
	vals, weights := s.sorted()
	if len(vals) == 0 || floats.Sum(weights) == 0 {
		return math.NaN(), nil
	}
	return stat.Quantile(q, stat.Empirical, vals, weights), nil
}

// Median is Quantile(0.5).
func (s Series) Median() float64 {
	m, _ := s.Quantile(0.5)
	return m
}

// Gini is the weighted Gini coefficient of the values, computed from the area
// under the Lorenz curve. It is 0 when the weighted total is 0.
func (s Series) Gini() float64 {
	vals, weights := s.sorted()
	totalW := floats.Sum(weights)
	totalV := floats.Dot(vals, weights)
	if totalW == 0 || totalV == 0 {
		return 0
	}
	var area, cumW, cumV, prevP, prevL float64
	for i := range vals {
		cumW += weights[i]
		cumV += weights[i] * vals[i]
		p, l := cumW/totalW, cumV/totalV
		area += (p - prevP) * (l + prevL)
		prevP, prevL = p, l
	}
	return 1 - area
}

func (s Series) sorted() (vals, weights []float64) {
	vals, weights = s.valid()
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return vals[idx[a]] < vals[idx[b]] })
	sv := make([]float64, len(vals))
	sw := make([]float64, len(vals))
	for i, j := range idx {
		sv[i], sw[i] = vals[j], weights[j]
	}
	return sv, sw
}

// Round returns a copy with values rounded half away from zero to dp decimal
// places. NaN and infinite values are kept as they are.
func (s Series) Round(dp int) Series {
	out := Series{values: make([]float64, len(s.values)), weights: s.Weights()}
	for i, v := range s.values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.values[i] = v
			continue
		}
		out.values[i], _ = decimal.NewFromFloat(v).Round(int32(dp)).Float64()
	}
	return out
}

// Sub returns s minus other elementwise, keeping s's weights.
func (s Series) Sub(other Series) (Series, error) {
	if len(other.values) != len(s.values) {
		return Series{}, LengthError{Values: len(other.values), Weights: len(s.weights)}
	}
	out := Series{values: s.Values(), weights: s.Weights()}
	floats.Sub(out.values, other.values)
	return out, nil
}

// Map returns a series with fn applied to every value.
func (s Series) Map(fn func(float64) float64) Series {
	out := Series{values: make([]float64, len(s.values)), weights: s.Weights()}
	for i, v := range s.values {
		out.values[i] = fn(v)
	}
	return out
}

var printer = message.NewPrinter(language.English)

// String summarises the series with grouped thousands.
func (s Series) String() string {
	return printer.Sprintf("n=%d weight=%.0f sum=%.2f mean=%.2f median=%.2f", s.Len(), s.Count(), s.Sum(), s.Mean(), s.Median())
}
