package dataset

import (
	"context"
	"encoding/json"
	"fmt"
)

// Driver identifies a dataset storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
	DriverBlob     Driver = "blob"
)

// Store persists named datasets. Save replaces any dataset of the same name.
type Store interface {
	Save(ctx context.Context, name string, data *Data) error
	Load(ctx context.Context, name string) (*Data, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	Driver() Driver
}

// NotFoundError reports a dataset name with no stored data.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("dataset %q not found", e.Name)
}

// Entry is one stored array. Exactly one of Values or Labels is set. SQL and
// key-value backends persist datasets as one entry per (variable, period).
type Entry struct {
	Variable string    `json:"variable"`
	Period   string    `json:"period"`
	Values   []float64 `json:"values,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
}

// IsLabels reports whether the entry carries categorical data.
func (e Entry) IsLabels() bool { return e.Labels != nil }

// Entries flattens d into entries ordered by variable then period, numeric
// arrays before labels.
func (d *Data) Entries() []Entry {
	var out []Entry
	for _, v := range d.Variables() {
		for _, p := range d.Periods(v) {
			if vals, ok := d.Get(v, p); ok {
				out = append(out, Entry{Variable: v, Period: p, Values: append([]float64{}, vals...)})
			}
			if labels, ok := d.GetLabels(v, p); ok {
				out = append(out, Entry{Variable: v, Period: p, Labels: append([]string{}, labels...)})
			}
		}
	}
	return out
}

// FromEntries rebuilds a dataset from entries.
func FromEntries(entries []Entry) *Data {
	d := New()
	for _, e := range entries {
		if e.IsLabels() {
			d.SetLabels(e.Variable, e.Period, e.Labels)
			continue
		}
		d.Set(e.Variable, e.Period, e.Values)
	}
	return d
}

// EncodePayload is the JSON encoding of an entry's array used by the SQL and
// key-value backends.
func (e Entry) EncodePayload() ([]byte, error) {
	if e.IsLabels() {
		return json.Marshal(e.Labels)
	}
	return json.Marshal(e.Values)
}

// DecodeEntry reverses EncodePayload.
func DecodeEntry(variable, period string, labels bool, payload []byte) (Entry, error) {
	e := Entry{Variable: variable, Period: period}
	var err error
	if labels {
		e.Labels = []string{}
		err = json.Unmarshal(payload, &e.Labels)
	} else {
		e.Values = []float64{}
		err = json.Unmarshal(payload, &e.Values)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("decode %s@%s: %w", variable, period, err)
	}
	return e, nil
}
