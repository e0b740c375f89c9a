package parameters

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ScaleAt is a scale resolved at one date. Brackets whose threshold is
// undefined at that date are dropped.
type ScaleAt struct {
	Kind       ScaleKind
	Thresholds []float64
	Rates      []float64
	Amounts    []float64
}

func resolveScale(t *Tree, path string, sc *Scale, at time.Time) (ScaleAt, error) {
	out := ScaleAt{Kind: sc.kind}
	for i, b := range sc.brackets {
		bpath := fmt.Sprintf("%s.brackets[%d]", path, i)
		if b.Threshold == nil {
			return ScaleAt{}, ParameterNotFoundError{Path: bpath + ".threshold"}
		}
		th, err := t.valueAt(bpath+".threshold", b.Threshold, at, 0)
		if err != nil {
			var undef ParameterUndefinedAtDateError
			if errors.As(err, &undef) {
				continue
			}
			return ScaleAt{}, err
		}
		var rate, amount float64
		switch sc.kind {
		case MarginalRate:
			if b.Rate == nil {
				return ScaleAt{}, ParameterNotFoundError{Path: bpath + ".rate"}
			}
			if rate, err = t.valueAt(bpath+".rate", b.Rate, at, 0); err != nil {
				return ScaleAt{}, err
			}
		default:
			if b.Amount == nil {
				return ScaleAt{}, ParameterNotFoundError{Path: bpath + ".amount"}
			}
			if amount, err = t.valueAt(bpath+".amount", b.Amount, at, 0); err != nil {
				return ScaleAt{}, err
			}
		}
		out.Thresholds = append(out.Thresholds, th)
		out.Rates = append(out.Rates, rate)
		out.Amounts = append(out.Amounts, amount)
	}
	return out, nil
}

// Calc applies the scale elementwise. A marginal-rate scale taxes each band of
// base at its rate; a single-amount scale returns the amount of the highest
// bracket whose threshold base reaches.
func (s ScaleAt) Calc(base []float64) []float64 {
	out := make([]float64, len(base))
	for i, b := range base {
		if s.Kind == SingleAmount {
			out[i] = s.amountFor(b)
			continue
		}
		var total float64
		for j, th := range s.Thresholds {
			upper := math.Inf(1)
			if j+1 < len(s.Thresholds) {
				upper = s.Thresholds[j+1]
			}
			band := math.Min(b, upper) - th
			if band > 0 {
				total += band * s.Rates[j]
			}
		}
		out[i] = total
	}
	return out
}

// MarginalRates returns the rate of the bracket each element of base falls in.
func (s ScaleAt) MarginalRates(base []float64) []float64 {
	out := make([]float64, len(base))
	for i, b := range base {
		if j := s.bracketFor(b); j >= 0 {
			out[i] = s.Rates[j]
		}
	}
	return out
}

func (s ScaleAt) amountFor(b float64) float64 {
	if j := s.bracketFor(b); j >= 0 {
		return s.Amounts[j]
	}
	return 0
}

func (s ScaleAt) bracketFor(b float64) int {
	idx := -1
	for j, th := range s.Thresholds {
		if b >= th {
			idx = j
		}
	}
	return idx
}
