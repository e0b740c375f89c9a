// Package dataset defines the microdata contract the engine reads from: arrays
// keyed by variable name and period, plus the relation arrays that describe
// who belongs to which group.
package dataset

import (
	"fmt"
	"sort"

	"microsim/pkg/entities"
)

// Data holds numeric inputs (Arrays) and categorical inputs (Labels), each
// keyed by variable then by period string. The zero value is not usable; call
// New.
type Data struct {
	Arrays map[string]map[string][]float64 `json:"arrays"`
	Labels map[string]map[string][]string  `json:"labels,omitempty"`
}

// New returns an empty dataset.
func New() *Data {
	return &Data{Arrays: make(map[string]map[string][]float64), Labels: make(map[string]map[string][]string)}
}

// Set stores a copy of values for (variable, period).
func (d *Data) Set(variable, period string, values []float64) {
	if d.Arrays == nil {
		d.Arrays = make(map[string]map[string][]float64)
	}
	byPeriod, ok := d.Arrays[variable]
	if !ok {
		byPeriod = make(map[string][]float64)
		d.Arrays[variable] = byPeriod
	}
	byPeriod[period] = append([]float64(nil), values...)
}

// SetLabels stores a copy of categorical values for (variable, period).
func (d *Data) SetLabels(variable, period string, labels []string) {
	if d.Labels == nil {
		d.Labels = make(map[string]map[string][]string)
	}
	byPeriod, ok := d.Labels[variable]
	if !ok {
		byPeriod = make(map[string][]string)
		d.Labels[variable] = byPeriod
	}
	byPeriod[period] = append([]string(nil), labels...)
}

// Get returns the numeric array for (variable, period).
func (d *Data) Get(variable, period string) ([]float64, bool) {
	v, ok := d.Arrays[variable][period]
	return v, ok
}

// GetLabels returns the categorical array for (variable, period).
func (d *Data) GetLabels(variable, period string) ([]string, bool) {
	v, ok := d.Labels[variable][period]
	return v, ok
}

// Variables lists every variable with numeric or categorical data, sorted.
func (d *Data) Variables() []string {
	seen := make(map[string]struct{}, len(d.Arrays)+len(d.Labels))
	for k := range d.Arrays {
		seen[k] = struct{}{}
	}
	for k := range d.Labels {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Periods lists the periods stored for variable, sorted.
func (d *Data) Periods(variable string) []string {
	seen := make(map[string]struct{})
	for p := range d.Arrays[variable] {
		seen[p] = struct{}{}
	}
	for p := range d.Labels[variable] {
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	out := New()
	for v, byPeriod := range d.Arrays {
		for p, vals := range byPeriod {
			out.Set(v, p, vals)
		}
	}
	for v, byPeriod := range d.Labels {
		for p, vals := range byPeriod {
			out.SetLabels(v, p, vals)
		}
	}
	return out
}

// GroupRelation names the dataset variables describing one group kind: the
// group id array, the person-level foreign key into it and, optionally, the
// person-level role labels.
type GroupRelation struct {
	Kind       entities.Kind
	ID         string
	Membership string
	Role       string
}

// Relations names the id and membership variables of a dataset.
type Relations struct {
	PersonID string
	Groups   []GroupRelation
}

// DefaultRelations follows the person_id / person_<group>_id naming used by
// UK survey extracts.
func DefaultRelations() Relations {
	return Relations{
		PersonID: "person_id",
		Groups: []GroupRelation{
			{Kind: entities.BenUnit, ID: "benunit_id", Membership: "person_benunit_id", Role: "person_benunit_role"},
			{Kind: entities.Household, ID: "household_id", Membership: "person_household_id", Role: "person_household_role"},
		},
	}
}

// IsRelation reports whether variable is one of the id, membership or role
// variables.
func (r Relations) IsRelation(variable string) bool {
	if variable == r.PersonID {
		return true
	}
	for _, g := range r.Groups {
		if variable == g.ID || variable == g.Membership || (g.Role != "" && variable == g.Role) {
			return true
		}
	}
	return false
}

// MissingRelationError reports a relation variable absent from the dataset.
type MissingRelationError struct {
	Variable string
	Period   string
}

func (e MissingRelationError) Error() string {
	return fmt.Sprintf("dataset: relation variable %s missing for %s", e.Variable, e.Period)
}

// Structure builds the entity structure described by the relation arrays at
// period. If a relation variable has no array for period but exactly one for
// another period, that one is used.
func (d *Data) Structure(schema entities.Schema, rel Relations, period string) (*entities.Structure, error) {
	b := entities.NewBuilder(schema)
	personIDs, err := d.ids(rel.PersonID, period)
	if err != nil {
		return nil, err
	}
	if err := b.Declare(entities.Person, personIDs); err != nil {
		return nil, err
	}
	for _, g := range rel.Groups {
		groupIDs, err := d.ids(g.ID, period)
		if err != nil {
			return nil, err
		}
		if err := b.Declare(g.Kind, groupIDs); err != nil {
			return nil, err
		}
		membership, err := d.ids(g.Membership, period)
		if err != nil {
			return nil, err
		}
		var roles []entities.Role
		if g.Role != "" {
			if labels, ok := d.pickLabels(g.Role, period); ok {
				roles = make([]entities.Role, len(labels))
				for i, l := range labels {
					roles[i] = entities.Role(l)
				}
			}
		}
		if err := b.Join(g.Kind, personIDs, membership, roles); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

func (d *Data) ids(variable, period string) ([]string, error) {
	vals, ok := d.pick(variable, period)
	if !ok {
		return nil, MissingRelationError{Variable: variable, Period: period}
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprintf("%g", v)
	}
	return out, nil
}

func (d *Data) pick(variable, period string) ([]float64, bool) {
	if v, ok := d.Get(variable, period); ok {
		return v, true
	}
	if byPeriod := d.Arrays[variable]; len(byPeriod) == 1 {
		for _, v := range byPeriod {
			return v, true
		}
	}
	return nil, false
}

func (d *Data) pickLabels(variable, period string) ([]string, bool) {
	if v, ok := d.GetLabels(variable, period); ok {
		return v, true
	}
	if byPeriod := d.Labels[variable]; len(byPeriod) == 1 {
		for _, v := range byPeriod {
			return v, true
		}
	}
	return nil, false
}
