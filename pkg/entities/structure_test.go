package entities

import (
	"errors"
	"testing"
)

// two households: h1 = {p1 head, p2 member}, h2 = {p3 head}; benunits b1 = {p1, p2}, b2 = {p3}
func buildSample(t *testing.T) *Structure {
	t.Helper()
	b := NewBuilder(DefaultSchema())
	if err := b.Declare(Person, []string{"p1", "p2", "p3"}); err != nil {
		t.Fatalf("declare persons: %v", err)
	}
	if err := b.Declare(Household, []string{"h1", "h2"}); err != nil {
		t.Fatalf("declare households: %v", err)
	}
	if err := b.Join(Household, []string{"p3", "p1", "p2"}, []string{"h2", "h1", "h1"}, []Role{Head, Head, Member}); err != nil {
		t.Fatalf("join households: %v", err)
	}
	if err := b.Join(BenUnit, []string{"p1", "p2", "p3"}, []string{"b1", "b1", "b2"}, []Role{Head, Partner, Head}); err != nil {
		t.Fatalf("join benunits: %v", err)
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return s
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReductionsAlignWithGroupOrder(t *testing.T) {
	s := buildSample(t)
	vals := []float64{1000, 2000, 500}
	cases := []struct {
		name string
		fn   func() ([]float64, error)
		want []float64
	}{
		{"sum", func() ([]float64, error) { return s.Sum(Household, vals) }, []float64{3000, 500}},
		{"max", func() ([]float64, error) { return s.Max(Household, vals) }, []float64{2000, 500}},
		{"min", func() ([]float64, error) { return s.Min(Household, vals) }, []float64{1000, 500}},
		{"mean", func() ([]float64, error) { return s.Mean(Household, vals) }, []float64{1500, 500}},
		{"any", func() ([]float64, error) { return s.Any(BenUnit, []float64{0, 1, 0}) }, []float64{1, 0}},
		{"all", func() ([]float64, error) { return s.All(BenUnit, []float64{1, 0, 1}) }, []float64{0, 1}},
		{"count", func() ([]float64, error) { return s.Count(BenUnit, []float64{3, 4, 0}) }, []float64{2, 0}},
		{"sum heads only", func() ([]float64, error) { return s.Sum(Household, vals, Head) }, []float64{1000, 500}},
		{"first partner", func() ([]float64, error) { return s.ValueFromFirstPerson(BenUnit, vals, Partner) }, []float64{2000, 0}},
		{"first person", func() ([]float64, error) { return s.ValueFromFirstPerson(BenUnit, vals, "") }, []float64{1000, 500}},
		{"nb persons", func() ([]float64, error) { return s.NbPersons(Household) }, []float64{2, 1}},
	}
	for _, tc := range cases {
		got, err := tc.fn()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !equal(got, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestProjectAndIndexInGroup(t *testing.T) {
	s := buildSample(t)
	got, err := s.Project(Household, []float64{7, 9})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if !equal(got, []float64{7, 7, 9}) {
		t.Fatalf("project: %v", got)
	}
	idx, err := s.IndexInGroup(Household)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !equal(idx, []float64{0, 1, 0}) {
		t.Fatalf("index in group: %v", idx)
	}
	if s.MaxGroupSize(Household) != 2 || s.Len(Household) != 2 || s.Len(Person) != 3 {
		t.Fatalf("unexpected sizes")
	}
	var le LengthError
	if _, err := s.Project(Household, []float64{1}); !errors.As(err, &le) {
		t.Fatalf("expected LengthError, got %v", err)
	}
}

func TestMapBetweenEntities(t *testing.T) {
	s := buildSample(t)
	if got, err := s.Map([]float64{1000, 2000, 500}, Person, Household, ""); err != nil || !equal(got, []float64{3000, 500}) {
		t.Fatalf("person->household: %v %v", got, err)
	}
	if got, err := s.Map([]float64{10, 4}, Household, Person, "mean"); err != nil || !equal(got, []float64{5, 5, 4}) {
		t.Fatalf("household->person mean: %v %v", got, err)
	}
	if got, err := s.Map([]float64{10, 4}, BenUnit, Household, ""); err != nil || !equal(got, []float64{10, 4}) {
		t.Fatalf("benunit->household two hop: %v %v", got, err)
	}
	if !TwoHop(BenUnit, Household) || TwoHop(Person, Household) {
		t.Fatalf("two hop classification wrong")
	}
	var inv InvalidAggregationError
	if _, err := s.Map([]float64{1, 2, 3}, Person, Household, "median"); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidAggregationError, got %v", err)
	}
	if _, err := s.Map([]float64{1, 2}, Household, Person, "sum"); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidAggregationError for group->person sum, got %v", err)
	}
}

func TestBuildRejectsBrokenMembership(t *testing.T) {
	cases := []struct {
		name  string
		setup func(b *Builder) error
	}{
		{"unassigned person", func(b *Builder) error {
			_ = b.Join(Household, []string{"p1"}, []string{"h1"}, nil)
			return b.Join(BenUnit, []string{"p1", "p2"}, []string{"b1", "b1"}, nil)
		}},
		{"assigned twice", func(b *Builder) error {
			_ = b.Join(Household, []string{"p1", "p2", "p1"}, []string{"h1", "h1", "h1"}, nil)
			return b.Join(BenUnit, []string{"p1", "p2"}, []string{"b1", "b1"}, nil)
		}},
		{"unknown person", func(b *Builder) error {
			_ = b.Join(Household, []string{"p1", "p2", "p9"}, []string{"h1", "h1", "h1"}, nil)
			return b.Join(BenUnit, []string{"p1", "p2"}, []string{"b1", "b1"}, nil)
		}},
		{"missing group kind", func(b *Builder) error {
			return b.Join(Household, []string{"p1", "p2"}, []string{"h1", "h1"}, nil)
		}},
	}
	for _, tc := range cases {
		b := NewBuilder(DefaultSchema())
		if err := b.Declare(Person, []string{"p1", "p2"}); err != nil {
			t.Fatalf("%s: declare: %v", tc.name, err)
		}
		if err := tc.setup(b); err != nil {
			t.Fatalf("%s: setup: %v", tc.name, err)
		}
		_, err := b.Build()
		var mi MembershipIntegrityError
		if !errors.As(err, &mi) {
			t.Fatalf("%s: expected MembershipIntegrityError, got %v", tc.name, err)
		}
	}

	b := NewBuilder(DefaultSchema())
	if err := b.Join(BenUnit, []string{"p1"}, []string{"b1"}, []Role{Member}); err == nil {
		t.Fatalf("expected role outside the benunit role set to be rejected")
	}
	if err := b.Declare("region", []string{"r1"}); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestParseAggregation(t *testing.T) {
	if a, err := ParseAggregation(""); err != nil || a != Sum {
		t.Fatalf("default aggregation: %v %v", a, err)
	}
	if a, err := ParseAggregation("MAX"); err != nil || a != Max {
		t.Fatalf("case-insensitive parse: %v %v", a, err)
	}
	if _, err := ParseAggregation("median"); err == nil {
		t.Fatalf("expected median to be rejected")
	}
}
