package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"microsim/pkg/entities"
	"microsim/pkg/parameters"
	"microsim/pkg/period"
)

const reformSchemaURL = "https://microsim.schemas.local/reform.schema.json"

const reformSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "requires": {"type": "string", "minLength": 1},
    "parameters": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "minProperties": 1,
        "propertyNames": {"pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
        "additionalProperties": {"type": "number"}
      }
    },
    "variables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "expr"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "entity": {"type": "string"},
          "type": {"enum": ["float", "int", "bool"]},
          "definition": {"enum": ["day", "month", "year", "eternity"]},
          "label": {"type": "string"},
          "default": {"type": "number"},
          "from": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
          "expr": {"type": "string", "minLength": 1},
          "inputs": {"type": "object", "additionalProperties": {"type": "string"}},
          "params": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    },
    "neutralize": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	reformSchemaOnce sync.Once
	reformSchema     *jsonschema.Schema
	reformSchemaErr  error
)

func compiledReformSchema() (*jsonschema.Schema, error) {
	reformSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(reformSchemaURL, strings.NewReader(reformSchemaJSON)); err != nil {
			reformSchemaErr = fmt.Errorf("reform schema load failed: %w", err)
			return
		}
		reformSchema, reformSchemaErr = c.Compile(reformSchemaURL)
	})
	return reformSchema, reformSchemaErr
}

// ReformFile is a declarative reform: parameter overrides, expression
// variables and neutralisations, optionally gated on the system version.
type ReformFile struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description,omitempty"`
	Requires    string                        `json:"requires,omitempty"`
	Parameters  map[string]map[string]float64 `json:"parameters,omitempty"`
	Variables   []ReformVariable              `json:"variables,omitempty"`
	Neutralize  []string                      `json:"neutralize,omitempty"`
}

// ReformVariable defines or overrides a variable with a CEL expression. An
// existing variable keeps its definition and gets the expression as its
// formula, from From when set. A new variable needs Entity.
type ReformVariable struct {
	Name       string            `json:"name"`
	Entity     string            `json:"entity,omitempty"`
	Type       string            `json:"type,omitempty"`
	Definition string            `json:"definition,omitempty"`
	Label      string            `json:"label,omitempty"`
	Default    float64           `json:"default,omitempty"`
	From       string            `json:"from,omitempty"`
	Expr       string            `json:"expr"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// ParseReformFile decodes and validates a YAML reform document.
func ParseReformFile(data []byte) (*ReformFile, error) {
	plain, err := parameters.DecodePlain(data)
	if err != nil {
		return nil, err
	}
	schema, err := compiledReformSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(plain); err != nil {
		return nil, fmt.Errorf("reform file: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return nil, err
	}
	var rf ReformFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("reform file: %w", err)
	}
	return &rf, nil
}

// LoadReformFile reads a reform file and compiles it.
func LoadReformFile(name string) (Reform, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	rf, err := ParseReformFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return rf.Reform()
}

// Reform compiles the file into a chain: version check, parameter overrides
// in path and date order, variables in file order, then neutralisations.
func (rf *ReformFile) Reform() (Reform, error) {
	var parts []Reform
	if rf.Requires != "" {
		parts = append(parts, RequireVersion(rf.Requires))
	}
	paths := make([]string, 0, len(rf.Parameters))
	for p := range rf.Parameters {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		dates := make([]string, 0, len(rf.Parameters[path]))
		for d := range rf.Parameters[path] {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		for _, d := range dates {
			from, err := parameters.ParseDate(d)
			if err != nil {
				return nil, fmt.Errorf("reform %s: parameter %s: %w", rf.Name, path, err)
			}
			parts = append(parts, SetParameter(path, from, rf.Parameters[path][d]))
		}
	}
	for _, rv := range rf.Variables {
		r, err := rv.reform()
		if err != nil {
			return nil, fmt.Errorf("reform %s: %w", rf.Name, err)
		}
		parts = append(parts, r)
	}
	for _, name := range rf.Neutralize {
		parts = append(parts, NeutralizeVariable(name))
	}
	return Chain(rf.Name, parts...), nil
}

func (rv ReformVariable) reform() (Reform, error) {
	f, err := Expression(ExpressionSpec{Expr: rv.Expr, Inputs: rv.Inputs, Params: rv.Params})
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", rv.Name, err)
	}
	span := FormulaSpan{Formula: f}
	if rv.From != "" {
		if span.Start, err = parameters.ParseDate(rv.From); err != nil {
			return nil, fmt.Errorf("variable %s: %w", rv.Name, err)
		}
	}
	return ReformFunc("variable:"+rv.Name, func(base *System) (*System, error) {
		if base.Registry().Has(rv.Name) {
			if rv.From != "" {
				return ReplaceFormulaFrom(rv.Name, span.Start, f).Apply(base)
			}
			return ReplaceFormula(rv.Name, f).Apply(base)
		}
		v, err := rv.definition()
		if err != nil {
			return nil, err
		}
		v.Formulas = []FormulaSpan{span}
		return AddVariable(v).Apply(base)
	}), nil
}

func (rv ReformVariable) definition() (*Variable, error) {
	if rv.Entity == "" {
		return nil, fmt.Errorf("new variable %s needs an entity", rv.Name)
	}
	v := &Variable{
		Name:       rv.Name,
		Entity:     entities.Kind(rv.Entity),
		ValueType:  Float,
		Definition: period.Year,
		Default:    rv.Default,
		Label:      rv.Label,
	}
	switch rv.Type {
	case "", "float":
	case "int":
		v.ValueType = Int
	case "bool":
		v.ValueType = Bool
	default:
		return nil, fmt.Errorf("variable %s: unsupported type %q", rv.Name, rv.Type)
	}
	if rv.Definition != "" {
		u, err := period.ParseUnit(rv.Definition)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", rv.Name, err)
		}
		v.Definition = u
	}
	return v, nil
}
