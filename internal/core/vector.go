package core

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is one value per entity instance. Booleans are stored as 0 and 1.
// Operations return new vectors and never modify their operands.
type Vector []float64

// Filled returns a vector of n copies of v.
func Filled(n int, v float64) Vector {
	out := make(Vector, n)
	if v != 0 {
		for i := range out {
			out[i] = v
		}
	}
	return out
}

// FromBool converts a boolean slice.
func FromBool(bs []bool) Vector {
	out := make(Vector, len(bs))
	for i, b := range bs {
		if b {
			out[i] = 1
		}
	}
	return out
}

// Clone copies v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	return append(Vector(nil), v...)
}

// Add is v + o elementwise.
func (v Vector) Add(o Vector) Vector {
	out := make(Vector, len(v))
	floats.AddTo(out, v, o)
	return out
}

// Sub is v - o elementwise.
func (v Vector) Sub(o Vector) Vector {
	out := make(Vector, len(v))
	floats.SubTo(out, v, o)
	return out
}

// Mul is v * o elementwise.
func (v Vector) Mul(o Vector) Vector {
	out := make(Vector, len(v))
	floats.MulTo(out, v, o)
	return out
}

// Div is v / o elementwise. Division by zero yields zero rather than Inf.
func (v Vector) Div(o Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		if o[i] != 0 {
			out[i] = v[i] / o[i]
		}
	}
	return out
}

// Scale multiplies every element by k.
func (v Vector) Scale(k float64) Vector {
	out := v.Clone()
	floats.Scale(k, out)
	return out
}

// AddConst adds k to every element.
func (v Vector) AddConst(k float64) Vector {
	out := v.Clone()
	floats.AddConst(k, out)
	return out
}

// Maximum is the elementwise max of v and o.
func (v Vector) Maximum(o Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		out[i] = math.Max(v[i], o[i])
	}
	return out
}

// Minimum is the elementwise min of v and o.
func (v Vector) Minimum(o Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		out[i] = math.Min(v[i], o[i])
	}
	return out
}

// Clip bounds every element to [lo, hi].
func (v Vector) Clip(lo, hi float64) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = math.Min(math.Max(x, lo), hi)
	}
	return out
}

// Floor clamps negative values to zero.
func (v Vector) Floor() Vector { return v.Clip(0, math.Inf(1)) }

func (v Vector) compare(k float64, fn func(a, b float64) bool) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		if fn(x, k) {
			out[i] = 1
		}
	}
	return out
}

// GT marks elements greater than k.
func (v Vector) GT(k float64) Vector { return v.compare(k, func(a, b float64) bool { return a > b }) }

// GE marks elements greater than or equal to k.
func (v Vector) GE(k float64) Vector { return v.compare(k, func(a, b float64) bool { return a >= b }) }

// LT marks elements less than k.
func (v Vector) LT(k float64) Vector { return v.compare(k, func(a, b float64) bool { return a < b }) }

// LE marks elements less than or equal to k.
func (v Vector) LE(k float64) Vector { return v.compare(k, func(a, b float64) bool { return a <= b }) }

// EQ marks elements equal to k.
func (v Vector) EQ(k float64) Vector { return v.compare(k, func(a, b float64) bool { return a == b }) }

// And is the elementwise logical and.
func (v Vector) And(o Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		if v[i] != 0 && o[i] != 0 {
			out[i] = 1
		}
	}
	return out
}

// Or is the elementwise logical or.
func (v Vector) Or(o Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		if v[i] != 0 || o[i] != 0 {
			out[i] = 1
		}
	}
	return out
}

// Not is the elementwise logical negation.
func (v Vector) Not() Vector {
	return v.EQ(0)
}

// Sum totals the elements.
func (v Vector) Sum() float64 { return floats.Sum(v) }

// Where picks a[i] where cond[i] is non-zero and b[i] elsewhere.
func Where(cond, a, b Vector) Vector {
	out := make(Vector, len(cond))
	for i, c := range cond {
		if c != 0 {
			out[i] = a[i]
		} else {
			out[i] = b[i]
		}
	}
	return out
}

// Select returns, per element, the choice of the first true condition, or
// fallback when none holds.
func Select(conds, choices []Vector, fallback float64) Vector {
	if len(conds) == 0 {
		return nil
	}
	out := Filled(len(conds[0]), fallback)
	done := make([]bool, len(out))
	for j, cond := range conds {
		for i, c := range cond {
			if !done[i] && c != 0 {
				out[i] = choices[j][i]
				done[i] = true
			}
		}
	}
	return out
}
