// Package entities describes the population units of a simulation (persons
// and the groups they belong to) and the transforms that move per-unit arrays
// between entity levels.
package entities

import (
	"fmt"
	"strings"
)

// Kind names an entity level.
type Kind string

const (
	Person    Kind = "person"
	BenUnit   Kind = "benunit"
	Household Kind = "household"
)

// Role is a person's position within a group.
type Role string

const (
	Head      Role = "head"
	Partner   Role = "partner"
	Child     Role = "child"
	Dependent Role = "dependent"
	Member    Role = "member"
)

// GroupSpec declares one group kind and the roles its members may take.
type GroupSpec struct {
	Kind  Kind
	Roles []Role
}

// Schema lists the group kinds every person must belong to.
type Schema struct {
	Groups []GroupSpec
}

// DefaultSchema is the person/benunit/household layout of a UK-style system.
func DefaultSchema() Schema {
	return Schema{Groups: []GroupSpec{
		{Kind: BenUnit, Roles: []Role{Head, Partner, Child}},
		{Kind: Household, Roles: []Role{Head, Member}},
	}}
}

// Group returns the definition of kind.
func (s Schema) Group(kind Kind) (GroupSpec, bool) {
	for _, g := range s.Groups {
		if g.Kind == kind {
			return g, true
		}
	}
	return GroupSpec{}, false
}

// Kinds lists person followed by the group kinds in declaration order.
func (s Schema) Kinds() []Kind {
	out := []Kind{Person}
	for _, g := range s.Groups {
		out = append(out, g.Kind)
	}
	return out
}

// Has reports whether kind is person or a declared group.
func (s Schema) Has(kind Kind) bool {
	if kind == Person {
		return true
	}
	_, ok := s.Group(kind)
	return ok
}

func (g GroupSpec) allows(r Role) bool {
	if len(g.Roles) == 0 {
		return true
	}
	for _, allowed := range g.Roles {
		if allowed == r {
			return true
		}
	}
	return false
}

// MembershipIntegrityError reports a person that is not assigned to exactly one
// instance of a required group kind, or a membership row naming an unknown id.
type MembershipIntegrityError struct {
	Group  Kind
	ID     string
	Reason string
}

func (e MembershipIntegrityError) Error() string {
	return fmt.Sprintf("membership integrity: %s %q: %s", e.Group, e.ID, e.Reason)
}

// InvalidAggregationError reports an unsupported entity transform operator.
type InvalidAggregationError struct {
	How  string
	From Kind
	To   Kind
}

func (e InvalidAggregationError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("invalid aggregation %q from %s to %s", e.How, e.From, e.To)
	}
	return fmt.Sprintf("invalid aggregation %q", e.How)
}

// LengthError reports an array whose length does not match its entity count.
type LengthError struct {
	Kind Kind
	Want int
	Got  int
}

func (e LengthError) Error() string {
	return fmt.Sprintf("%s array has %d values, want %d", e.Kind, e.Got, e.Want)
}

// UnknownKindError reports an entity kind absent from the schema.
type UnknownKindError struct {
	Kind Kind
}

func (e UnknownKindError) Error() string {
	return fmt.Sprintf("unknown entity kind %q", e.Kind)
}

// Aggregation is a group reduction operator.
type Aggregation string

const (
	Sum         Aggregation = "sum"
	Any         Aggregation = "any"
	All         Aggregation = "all"
	Max         Aggregation = "max"
	Min         Aggregation = "min"
	Count       Aggregation = "count"
	Mean        Aggregation = "mean"
	FirstPerson Aggregation = "value_from_first_person"
)

var aggregations = map[Aggregation]struct{}{
	Sum: {}, Any: {}, All: {}, Max: {}, Min: {}, Count: {}, Mean: {}, FirstPerson: {},
}

// ParseAggregation validates an operator name. The empty string means Sum.
func ParseAggregation(s string) (Aggregation, error) {
	if s == "" {
		return Sum, nil
	}
	a := Aggregation(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := aggregations[a]; !ok {
		return "", InvalidAggregationError{How: s}
	}
	return a, nil
}
