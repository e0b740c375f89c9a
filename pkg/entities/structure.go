package entities

import (
	"math"
)

// Builder assembles a Structure from declared ids and membership rows.
type Builder struct {
	schema Schema
	ids    map[Kind][]string
	joins  map[Kind]membership
}

type membership struct {
	members []string
	groups  []string
	roles   []Role
}

// NewBuilder starts a population for schema.
func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema, ids: make(map[Kind][]string), joins: make(map[Kind]membership)}
}

// Declare sets the instance ids of kind. Ids must be unique.
func (b *Builder) Declare(kind Kind, ids []string) error {
	if !b.schema.Has(kind) {
		return UnknownKindError{Kind: kind}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return MembershipIntegrityError{Group: kind, ID: id, Reason: "duplicate id"}
		}
		seen[id] = struct{}{}
	}
	b.ids[kind] = append([]string(nil), ids...)
	return nil
}

// Join records that memberIDs[i] belongs to groupIDs[i] of kind group with
// roles[i]. A nil roles slice leaves every member role-less.
func (b *Builder) Join(group Kind, memberIDs, groupIDs []string, roles []Role) error {
	spec, ok := b.schema.Group(group)
	if !ok {
		return UnknownKindError{Kind: group}
	}
	if len(memberIDs) != len(groupIDs) {
		return LengthError{Kind: group, Want: len(memberIDs), Got: len(groupIDs)}
	}
	if roles != nil && len(roles) != len(memberIDs) {
		return LengthError{Kind: group, Want: len(memberIDs), Got: len(roles)}
	}
	for i, r := range roles {
		if r != "" && !spec.allows(r) {
			return MembershipIntegrityError{Group: group, ID: memberIDs[i], Reason: "role " + string(r) + " not allowed"}
		}
	}
	b.joins[group] = membership{
		members: append([]string(nil), memberIDs...),
		groups:  append([]string(nil), groupIDs...),
		roles:   append([]Role(nil), roles...),
	}
	return nil
}

// Build checks that every person belongs to exactly one instance of every
// group kind and indexes the result. Group ids not declared explicitly are
// taken from the membership rows in order of first appearance.
func (b *Builder) Build() (*Structure, error) {
	persons := b.ids[Person]
	pidx := make(map[string]int, len(persons))
	for i, id := range persons {
		pidx[id] = i
	}
	s := &Structure{schema: b.schema, persons: append([]string(nil), persons...), groups: make(map[Kind]*groupIndex)}
	for _, spec := range b.schema.Groups {
		j, ok := b.joins[spec.Kind]
		if !ok {
			if len(persons) == 0 {
				s.groups[spec.Kind] = &groupIndex{ids: append([]string(nil), b.ids[spec.Kind]...), members: make([][]int, len(b.ids[spec.Kind]))}
				continue
			}
			return nil, MembershipIntegrityError{Group: spec.Kind, ID: persons[0], Reason: "no membership declared"}
		}
		ids, declared := b.ids[spec.Kind]
		if !declared {
			ids = firstAppearance(j.groups)
		}
		g, err := indexGroup(spec.Kind, ids, len(persons), pidx, j)
		if err != nil {
			return nil, err
		}
		if len(g.ids) > len(persons) {
			return nil, MembershipIntegrityError{Group: spec.Kind, ID: g.ids[len(persons)], Reason: "more groups than persons"}
		}
		s.groups[spec.Kind] = g
	}
	return s, nil
}

func firstAppearance(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func indexGroup(kind Kind, ids []string, nPersons int, pidx map[string]int, j membership) (*groupIndex, error) {
	gidx := make(map[string]int, len(ids))
	for i, id := range ids {
		gidx[id] = i
	}
	g := &groupIndex{
		ids:      append([]string(nil), ids...),
		memberOf: make([]int, nPersons),
		roles:    make([]Role, nPersons),
		position: make([]int, nPersons),
		members:  make([][]int, len(ids)),
	}
	for i := range g.memberOf {
		g.memberOf[i] = -1
	}
	for row, mid := range j.members {
		p, ok := pidx[mid]
		if !ok {
			return nil, MembershipIntegrityError{Group: kind, ID: mid, Reason: "unknown person"}
		}
		gi, ok := gidx[j.groups[row]]
		if !ok {
			return nil, MembershipIntegrityError{Group: kind, ID: j.groups[row], Reason: "unknown group"}
		}
		if g.memberOf[p] >= 0 {
			return nil, MembershipIntegrityError{Group: kind, ID: mid, Reason: "person assigned twice"}
		}
		g.memberOf[p] = gi
		if len(j.roles) > 0 {
			g.roles[p] = j.roles[row]
		}
	}
	for p, gi := range g.memberOf {
		if gi < 0 {
			return nil, MembershipIntegrityError{Group: kind, ID: personID(pidx, p), Reason: "person not assigned"}
		}
		g.position[p] = len(g.members[gi])
		g.members[gi] = append(g.members[gi], p)
	}
	return g, nil
}

func personID(pidx map[string]int, p int) string {
	for id, i := range pidx {
		if i == p {
			return id
		}
	}
	return ""
}

type groupIndex struct {
	ids      []string
	memberOf []int
	roles    []Role
	position []int
	members  [][]int
}

// Structure is an immutable, validated population layout. Arrays passed to
// and returned from its methods are aligned with the id order of their kind.
type Structure struct {
	schema  Schema
	persons []string
	groups  map[Kind]*groupIndex
}

// Schema returns the schema the structure was built with.
func (s *Structure) Schema() Schema { return s.schema }

// Len returns the number of instances of kind.
func (s *Structure) Len(kind Kind) int {
	if kind == Person {
		return len(s.persons)
	}
	if g, ok := s.groups[kind]; ok {
		return len(g.ids)
	}
	return 0
}

// IDs returns a copy of the instance ids of kind.
func (s *Structure) IDs(kind Kind) []string {
	if kind == Person {
		return append([]string(nil), s.persons...)
	}
	if g, ok := s.groups[kind]; ok {
		return append([]string(nil), g.ids...)
	}
	return nil
}

func (s *Structure) group(kind Kind) (*groupIndex, error) {
	g, ok := s.groups[kind]
	if !ok {
		return nil, UnknownKindError{Kind: kind}
	}
	return g, nil
}

func (s *Structure) checkPersons(vals []float64) error {
	if len(vals) != len(s.persons) {
		return LengthError{Kind: Person, Want: len(s.persons), Got: len(vals)}
	}
	return nil
}

// GroupOf returns, for each person, the index of their group of kind.
func (s *Structure) GroupOf(kind Kind) ([]int, error) {
	g, err := s.group(kind)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), g.memberOf...), nil
}

// Roles returns each person's role in their group of kind.
func (s *Structure) Roles(kind Kind) ([]Role, error) {
	g, err := s.group(kind)
	if err != nil {
		return nil, err
	}
	return append([]Role(nil), g.roles...), nil
}

// IndexInGroup returns each person's zero-based position within their group,
// ordered by person order.
func (s *Structure) IndexInGroup(kind Kind) ([]float64, error) {
	g, err := s.group(kind)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(g.position))
	for i, p := range g.position {
		out[i] = float64(p)
	}
	return out, nil
}

// MaxGroupSize returns the size of the largest group of kind.
func (s *Structure) MaxGroupSize(kind Kind) int {
	g, ok := s.groups[kind]
	if !ok {
		return 0
	}
	max := 0
	for _, m := range g.members {
		if len(m) > max {
			max = len(m)
		}
	}
	return max
}

// Project broadcasts a group-level array to every member.
func (s *Structure) Project(kind Kind, vals []float64) ([]float64, error) {
	if kind == Person {
		if err := s.checkPersons(vals); err != nil {
			return nil, err
		}
		return append([]float64(nil), vals...), nil
	}
	g, err := s.group(kind)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(g.ids) {
		return nil, LengthError{Kind: kind, Want: len(g.ids), Got: len(vals)}
	}
	out := make([]float64, len(g.memberOf))
	for p, gi := range g.memberOf {
		out[p] = vals[gi]
	}
	return out, nil
}

// Aggregate reduces a person-level array to one value per group of kind. When
// roles are given only members holding one of them contribute.
func (s *Structure) Aggregate(kind Kind, how Aggregation, vals []float64, roles ...Role) ([]float64, error) {
	g, err := s.group(kind)
	if err != nil {
		return nil, err
	}
	if err := s.checkPersons(vals); err != nil {
		return nil, err
	}
	if _, ok := aggregations[how]; !ok {
		return nil, InvalidAggregationError{How: string(how), From: Person, To: kind}
	}
	out := make([]float64, len(g.ids))
	for gi, members := range g.members {
		var picked []float64
		for _, p := range members {
			if len(roles) == 0 || hasRole(g.roles[p], roles) {
				picked = append(picked, vals[p])
			}
		}
		out[gi] = reduce(how, picked)
	}
	return out, nil
}

func hasRole(r Role, roles []Role) bool {
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func reduce(how Aggregation, xs []float64) float64 {
	switch how {
	case Sum:
		var t float64
		for _, x := range xs {
			t += x
		}
		return t
	case Any:
		for _, x := range xs {
			if x != 0 {
				return 1
			}
		}
		return 0
	case All:
		for _, x := range xs {
			if x == 0 {
				return 0
			}
		}
		return 1
	case Max, Min:
		if len(xs) == 0 {
			return 0
		}
		v := xs[0]
		for _, x := range xs[1:] {
			if how == Max {
				v = math.Max(v, x)
			} else {
				v = math.Min(v, x)
			}
		}
		return v
	case Count:
		var n float64
		for _, x := range xs {
			if x != 0 {
				n++
			}
		}
		return n
	case Mean:
		if len(xs) == 0 {
			return 0
		}
		return reduce(Sum, xs) / float64(len(xs))
	case FirstPerson:
		if len(xs) == 0 {
			return 0
		}
		return xs[0]
	}
	return 0
}

// Sum adds member values per group.
func (s *Structure) Sum(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Sum, vals, roles...)
}

// Any is 1 where at least one member value is non-zero.
func (s *Structure) Any(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Any, vals, roles...)
}

// All is 1 where every member value is non-zero. Empty groups yield 1.
func (s *Structure) All(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, All, vals, roles...)
}

// Max is the largest member value, or 0 for an empty selection.
func (s *Structure) Max(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Max, vals, roles...)
}

// Min is the smallest member value, or 0 for an empty selection.
func (s *Structure) Min(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Min, vals, roles...)
}

// Count is the number of members with a non-zero value.
func (s *Structure) Count(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Count, vals, roles...)
}

// Mean averages member values.
func (s *Structure) Mean(kind Kind, vals []float64, roles ...Role) ([]float64, error) {
	return s.Aggregate(kind, Mean, vals, roles...)
}

// ValueFromFirstPerson returns, per group, the value of the first member in
// person order holding role. An empty role selects the first member.
func (s *Structure) ValueFromFirstPerson(kind Kind, vals []float64, role Role) ([]float64, error) {
	if role == "" {
		return s.Aggregate(kind, FirstPerson, vals)
	}
	return s.Aggregate(kind, FirstPerson, vals, role)
}

// NbPersons counts members per group, optionally restricted to roles.
func (s *Structure) NbPersons(kind Kind, roles ...Role) ([]float64, error) {
	ones := make([]float64, len(s.persons))
	for i := range ones {
		ones[i] = 1
	}
	return s.Aggregate(kind, Sum, ones, roles...)
}
