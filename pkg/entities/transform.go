package entities

// Map moves vals from entity from to entity to.
//
// Person to group reduces with how (default sum). Group to person projects,
// or with how "mean" splits the group value evenly across members. Between
// two different groups the value is first split to persons and then summed,
// which is only meaningful for additive quantities; TwoHop reports whether a
// pair takes that route.
func (s *Structure) Map(vals []float64, from, to Kind, how string) ([]float64, error) {
	if !s.schema.Has(from) {
		return nil, UnknownKindError{Kind: from}
	}
	if !s.schema.Has(to) {
		return nil, UnknownKindError{Kind: to}
	}
	switch {
	case from == to:
		if want := s.Len(from); len(vals) != want {
			return nil, LengthError{Kind: from, Want: want, Got: len(vals)}
		}
		return append([]float64(nil), vals...), nil
	case from == Person:
		agg, err := ParseAggregation(how)
		if err != nil {
			return nil, InvalidAggregationError{How: how, From: from, To: to}
		}
		return s.Aggregate(to, agg, vals)
	case to == Person:
		switch how {
		case "", "project":
			return s.Project(from, vals)
		case string(Mean):
			return s.split(from, vals)
		default:
			return nil, InvalidAggregationError{How: how, From: from, To: to}
		}
	default:
		perPerson, err := s.split(from, vals)
		if err != nil {
			return nil, err
		}
		return s.Aggregate(to, Sum, perPerson)
	}
}

// TwoHop reports whether Map between from and to goes through persons.
func TwoHop(from, to Kind) bool {
	return from != to && from != Person && to != Person
}

func (s *Structure) split(kind Kind, vals []float64) ([]float64, error) {
	projected, err := s.Project(kind, vals)
	if err != nil {
		return nil, err
	}
	sizes, err := s.NbPersons(kind)
	if err != nil {
		return nil, err
	}
	size, err := s.Project(kind, sizes)
	if err != nil {
		return nil, err
	}
	for i := range projected {
		projected[i] /= size[i]
	}
	return projected, nil
}
