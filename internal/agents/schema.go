package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const headerSchemaJSON = `{
  "type": "object",
  "required": ["description", "mode"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9._-]*$"},
    "description": {"type": "string", "minLength": 1},
    "mode": {"enum": ["primary", "subagent", "all"]},
    "model": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "timeout": {"type": ["string", "integer"]},
    "tools": {
      "type": "object",
      "additionalProperties": {"type": "boolean"}
    },
    "permission": {
      "type": "object",
      "additionalProperties": {
        "oneOf": [
          {"$ref": "#/$defs/action"},
          {"type": "object", "additionalProperties": {"$ref": "#/$defs/action"}}
        ]
      }
    },
    "subagents": {
      "type": "array",
      "items": {
        "oneOf": [
          {"type": "string", "minLength": 1},
          {
            "type": "object",
            "required": ["agent"],
            "properties": {
              "agent": {"type": "string", "minLength": 1},
              "input": {"type": "string"},
              "timeout": {"type": ["string", "integer"]}
            },
            "additionalProperties": false
          }
        ]
      }
    }
  },
  "$defs": {
    "action": {"enum": ["allow", "deny", "ask"]}
  }
}`

var headerSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(headerSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("headerSchema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agent-header.json", doc); err != nil {
		return nil, fmt.Errorf("headerSchema: %w", err)
	}
	return c.Compile("agent-header.json")
})

// validateHeader checks a decoded YAML header against the definition schema.
// The header is round-tripped through JSON so numbers reach the validator in
// the form it expects.
func validateHeader(raw map[string]any) error {
	sch, err := headerSchema()
	if err != nil {
		return err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("header is not representable as JSON: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	return nil
}
