package weighted

import (
	"fmt"
)

// Frame is a set of named columns aligned to one entity's instance order and
// sharing that entity's weights.
type Frame struct {
	weights []float64
	names   []string
	columns map[string]Series
}

// NewFrame starts an empty frame with the given row weights.
func NewFrame(weights []float64) *Frame {
	return &Frame{weights: append([]float64(nil), weights...), columns: make(map[string]Series)}
}

// Add appends a column. Re-adding a name replaces the column in place.
func (f *Frame) Add(name string, values []float64) error {
	s, err := NewSeries(values, f.weights)
	if err != nil {
		return fmt.Errorf("weighted: column %s: %w", name, err)
	}
	if _, ok := f.columns[name]; !ok {
		f.names = append(f.names, name)
	}
	f.columns[name] = s
	return nil
}

// Column returns the named column.
func (f *Frame) Column(name string) (Series, bool) {
	s, ok := f.columns[name]
	return s, ok
}

// Names lists the columns in insertion order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Rows is the number of rows.
func (f *Frame) Rows() int { return len(f.weights) }

// Weights returns a copy of the row weights.
func (f *Frame) Weights() []float64 { return append([]float64(nil), f.weights...) }

// Row returns the values of row i in column order.
func (f *Frame) Row(i int) []float64 {
	out := make([]float64, len(f.names))
	for j, name := range f.names {
		out[j] = f.columns[name].values[i]
	}
	return out
}

// Sums returns the weighted total of every column.
func (f *Frame) Sums() map[string]float64 {
	out := make(map[string]float64, len(f.names))
	for _, name := range f.names {
		out[name] = f.columns[name].Sum()
	}
	return out
}
