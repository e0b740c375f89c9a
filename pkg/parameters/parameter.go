// Package parameters holds the time-indexed tree of legislative parameters
// (rates, thresholds, amounts, scales and categorical tables) that formulas
// read as of a date.
package parameters

import (
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// Date builds a UTC calendar date.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parameters: invalid date %q: %w", s, err)
	}
	return t, nil
}

// Value is one entry of a parameter history: Amount applies from Start until
// the next entry. A Closed entry leaves the parameter undefined from Start.
type Value struct {
	Start  time.Time
	Amount float64
	Closed bool
}

// At is shorthand for an open value starting at start.
func At(start time.Time, amount float64) Value {
	return Value{Start: start, Amount: amount}
}

// ClosedAt ends a parameter's history at start.
func ClosedAt(start time.Time) Value {
	return Value{Start: start, Closed: true}
}

// Parameter is a single time-indexed scalar.
type Parameter struct {
	values      []Value
	interpolate bool
	uprating    string
	unit        string
	description string
}

// ParameterOption configures a Parameter.
type ParameterOption func(*Parameter)

// WithInterpolation makes lookups between two known entries linear in time.
func WithInterpolation() ParameterOption {
	return func(p *Parameter) { p.interpolate = true }
}

// WithUprating propagates the latest known value forward by the ratio of the
// index parameter at index between the requested date and the value's start.
func WithUprating(index string) ParameterOption {
	return func(p *Parameter) { p.uprating = index }
}

// WithUnit records the parameter's unit (e.g. "currency-GBP", "/1").
func WithUnit(unit string) ParameterOption {
	return func(p *Parameter) { p.unit = unit }
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) ParameterOption {
	return func(p *Parameter) { p.description = desc }
}

// NewParameter builds a parameter from its history. Values are sorted by start;
// a later duplicate start replaces an earlier one.
func NewParameter(values []Value, opts ...ParameterOption) *Parameter {
	p := &Parameter{values: normaliseValues(values)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normaliseValues(values []Value) []Value {
	out := make([]Value, 0, len(values))
	byStart := make(map[time.Time]int, len(values))
	for _, v := range values {
		v.Start = Date(v.Start.Date())
		if i, ok := byStart[v.Start]; ok {
			out[i] = v
			continue
		}
		byStart[v.Start] = len(out)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Values returns a copy of the history in ascending start order.
func (p *Parameter) Values() []Value {
	return append([]Value(nil), p.values...)
}

// Interpolated reports whether the parameter interpolates between entries.
func (p *Parameter) Interpolated() bool { return p.interpolate }

// Uprating returns the index parameter path, or "".
func (p *Parameter) Uprating() string { return p.uprating }

// Unit returns the declared unit.
func (p *Parameter) Unit() string { return p.unit }

// Description returns the declared description.
func (p *Parameter) Description() string { return p.description }

// withValueFrom returns a copy whose history is truncated at from and
// continued with amount.
func (p *Parameter) withValueFrom(from time.Time, amount float64) *Parameter {
	cp := *p
	from = Date(from.Date())
	cp.values = nil
	for _, v := range p.values {
		if v.Start.Before(from) {
			cp.values = append(cp.values, v)
		}
	}
	cp.values = append(cp.values, At(from, amount))
	return &cp
}

// ScaleKind distinguishes marginal-rate scales from single-amount scales.
type ScaleKind int

const (
	MarginalRate ScaleKind = iota
	SingleAmount
)

// Bracket is one band of a scale. Rate is used by marginal-rate scales and
// Amount by single-amount scales.
type Bracket struct {
	Threshold *Parameter
	Rate      *Parameter
	Amount    *Parameter
}

// Scale is an ordered schedule of brackets.
type Scale struct {
	kind        ScaleKind
	brackets    []Bracket
	description string
}

// NewScale builds a scale of the given kind.
func NewScale(kind ScaleKind, brackets []Bracket, description string) *Scale {
	return &Scale{kind: kind, brackets: append([]Bracket(nil), brackets...), description: description}
}

// Kind returns the scale kind.
func (s *Scale) Kind() ScaleKind { return s.kind }

// Brackets returns a copy of the bracket list.
func (s *Scale) Brackets() []Bracket { return append([]Bracket(nil), s.brackets...) }

// Node is a branch or leaf of the parameter tree. Leaves hold either a
// Parameter or a Scale; branches hold named children. Nodes are never mutated
// after construction, so trees may share them.
type Node struct {
	description string
	children    map[string]*Node
	param       *Parameter
	scale       *Scale
}

// Branch builds an interior node.
func Branch(children map[string]*Node) *Node {
	cp := make(map[string]*Node, len(children))
	for k, v := range children {
		cp[k] = v
	}
	return &Node{children: cp}
}

// Leaf wraps a parameter as a node.
func Leaf(p *Parameter) *Node { return &Node{param: p} }

// ScaleLeaf wraps a scale as a node.
func ScaleLeaf(s *Scale) *Node { return &Node{scale: s} }

// Parameter returns the leaf parameter, if any.
func (n *Node) Parameter() (*Parameter, bool) { return n.param, n.param != nil }

// Scale returns the leaf scale, if any.
func (n *Node) Scale() (*Scale, bool) { return n.scale, n.scale != nil }

// Child returns a direct child by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// ChildNames lists the direct children in sorted order.
func (n *Node) ChildNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsBranch reports whether the node is an interior node.
func (n *Node) IsBranch() bool { return n.param == nil && n.scale == nil }

// Description returns the node description.
func (n *Node) Description() string { return n.description }

func (n *Node) withChild(name string, child *Node) *Node {
	cp := &Node{description: n.description, children: make(map[string]*Node, len(n.children)+1)}
	for k, v := range n.children {
		cp.children[k] = v
	}
	cp.children[name] = child
	return cp
}
