package parameters

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://microsim.schemas.local/parameters.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$ref": "#/$defs/node",
  "$defs": {
    "scalar": {"type": ["number", "boolean", "null"]},
    "values": {
      "type": "object",
      "propertyNames": {"pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
      "additionalProperties": {
        "anyOf": [
          {"$ref": "#/$defs/scalar"},
          {"type": "object", "required": ["value"], "properties": {"value": {"$ref": "#/$defs/scalar"}}}
        ]
      }
    },
    "metadata": {
      "type": "object",
      "properties": {
        "interpolate": {"type": "boolean"},
        "uprating": {"type": "string", "minLength": 1},
        "unit": {"type": "string"},
        "type": {"enum": ["marginal_rate", "single_amount"]}
      }
    },
    "parameter": {
      "type": "object",
      "required": ["values"],
      "properties": {
        "values": {"$ref": "#/$defs/values"},
        "metadata": {"$ref": "#/$defs/metadata"},
        "description": {"type": "string"},
        "reference": {}
      },
      "additionalProperties": false
    },
    "bracket": {
      "type": "object",
      "required": ["threshold"],
      "properties": {
        "threshold": {"$ref": "#/$defs/parameter"},
        "rate": {"$ref": "#/$defs/parameter"},
        "amount": {"$ref": "#/$defs/parameter"}
      },
      "additionalProperties": false
    },
    "scale": {
      "type": "object",
      "required": ["brackets"],
      "properties": {
        "brackets": {"type": "array", "items": {"$ref": "#/$defs/bracket"}},
        "metadata": {"$ref": "#/$defs/metadata"},
        "description": {"type": "string"},
        "reference": {}
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "not": {"anyOf": [{"required": ["values"]}, {"required": ["brackets"]}]},
      "properties": {
        "description": {"type": "string"},
        "metadata": {"type": "object"},
        "reference": {}
      },
      "additionalProperties": {"$ref": "#/$defs/node"}
    },
    "node": {
      "anyOf": [
        {"$ref": "#/$defs/parameter"},
        {"$ref": "#/$defs/scale"},
        {"$ref": "#/$defs/branch"}
      ]
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func parameterSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("parameters: schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("parameters: schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Validate checks a YAML parameter document against the parameter file schema
// without building a tree.
func Validate(data []byte) error {
	plain, err := decodeYAML(data)
	if err != nil {
		return err
	}
	return validatePlain(plain)
}

func validatePlain(plain any) error {
	schema, err := parameterSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(plain); err != nil {
		return fmt.Errorf("parameters: schema validation failed: %w", err)
	}
	return nil
}
