package core

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

// ValueType is the kind of value a variable holds.
type ValueType int

const (
	Float ValueType = iota
	Int
	Bool
	Enum
)

func (t ValueType) String() string {
	switch t {
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Enum:
		return "enum"
	default:
		return fmt.Sprintf("valuetype(%d)", int(t))
	}
}

// Formula computes a variable for every instance of its entity. params is the
// parameter tree as of the start of p.
type Formula func(pop *Population, p period.Period, params parameters.Snapshot) (Vector, error)

// FormulaSpan makes Formula active from Start until the next span. A nil
// Formula ends the variable's formula history at Start.
type FormulaSpan struct {
	Start   time.Time
	Formula Formula
}

// Perturbation moves a variable's resolved value: by Delta, or by Delta
// percent when Percent is set. A non-nil Mask limits the change to instances
// where the mask is non-zero.
type Perturbation struct {
	Delta   float64
	Percent bool
	Mask    Vector
}

func (p Perturbation) apply(v Vector) Vector {
	out := v.Clone()
	for i := range out {
		if p.Mask != nil && (i >= len(p.Mask) || p.Mask[i] == 0) {
			continue
		}
		if p.Percent {
			out[i] *= 1 + p.Delta/100
		} else {
			out[i] += p.Delta
		}
	}
	return out
}

// Variable is the definition of one named quantity.
type Variable struct {
	Name       string
	Entity     entities.Kind
	ValueType  ValueType
	Definition period.Unit
	Default    float64
	// NoDefault makes a request with no applicable formula or input fail with
	// NoApplicableFormulaError instead of returning Default.
	NoDefault bool
	Formulas  []FormulaSpan
	// Labels are the possible values of an Enum variable; Default indexes them.
	Labels []string
	// Uprating names an index parameter used to carry the latest earlier input
	// forward when nothing else applies.
	Uprating    string
	Label       string
	Unit        string
	Neutralized bool
	Perturb     *Perturbation
}

// Clone returns a deep copy.
func (v *Variable) Clone() *Variable {
	cp := *v
	cp.Formulas = append([]FormulaSpan(nil), v.Formulas...)
	cp.Labels = append([]string(nil), v.Labels...)
	if v.Perturb != nil {
		p := *v.Perturb
		p.Mask = v.Perturb.Mask.Clone()
		cp.Perturb = &p
	}
	return &cp
}

// HasFormula reports whether any span carries a formula.
func (v *Variable) HasFormula() bool {
	for _, s := range v.Formulas {
		if s.Formula != nil {
			return true
		}
	}
	return false
}

func (v *Variable) sortSpans() {
	sort.SliceStable(v.Formulas, func(i, j int) bool { return v.Formulas[i].Start.Before(v.Formulas[j].Start) })
}

// formulaAt returns the span active at p, or nil. Eternity requests use the
// latest span.
func (v *Variable) formulaAt(p period.Period) Formula {
	if len(v.Formulas) == 0 {
		return nil
	}
	if p.IsEternity() {
		return v.Formulas[len(v.Formulas)-1].Formula
	}
	start := p.Start()
	idx := sort.Search(len(v.Formulas), func(i int) bool { return v.Formulas[i].Start.After(start) }) - 1
	if idx < 0 {
		return nil
	}
	return v.Formulas[idx].Formula
}

func (v *Variable) validate() error {
	if v.Name == "" {
		return fmt.Errorf("core: variable without a name")
	}
	if v.Entity == "" {
		return fmt.Errorf("core: variable %s has no entity", v.Name)
	}
	if v.ValueType == Enum {
		if len(v.Labels) == 0 {
			return fmt.Errorf("core: enum variable %s has no labels", v.Name)
		}
		if d := int(v.Default); float64(d) != v.Default || d < 0 || d >= len(v.Labels) {
			return fmt.Errorf("core: enum variable %s default %v is not a label index", v.Name, v.Default)
		}
	}
	return nil
}

// Encode maps labels onto indices into v.Labels. Labels are compared after
// Unicode NFC normalisation.
func (v *Variable) Encode(labels []string) (Vector, error) {
	index := make(map[string]int, len(v.Labels))
	for i, l := range v.Labels {
		index[norm.NFC.String(l)] = i
	}
	out := make(Vector, len(labels))
	for i, l := range labels {
		j, ok := index[norm.NFC.String(l)]
		if !ok {
			return nil, UnknownLabelError{Variable: v.Name, Label: l}
		}
		out[i] = float64(j)
	}
	return out, nil
}

// Decode maps indices back to labels. Out-of-range indices decode to "".
func (v *Variable) Decode(vals Vector) []string {
	out := make([]string, len(vals))
	for i, x := range vals {
		j := int(x)
		if j >= 0 && j < len(v.Labels) {
			out[i] = v.Labels[j]
		}
	}
	return out
}

// LabelIndex returns the index of label, or -1.
func (v *Variable) LabelIndex(label string) int {
	want := norm.NFC.String(label)
	for i, l := range v.Labels {
		if norm.NFC.String(l) == want {
			return i
		}
	}
	return -1
}
