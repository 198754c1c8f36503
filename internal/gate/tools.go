package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triage-ai/agentgate/internal/agents"
)

// Class groups tools by the kind of side effect they have.
type Class string

const (
	ClassRead    Class = "read"
	ClassShell   Class = "shell"
	ClassWrite   Class = "write"
	ClassNetwork Class = "network"
)

// defaultAction is what an unmatched call resolves to.
func (c Class) defaultAction() agents.Action {
	if c == ClassRead {
		return agents.ActionAllow
	}
	return agents.ActionDeny
}

// ToolSpec describes a tool the gate knows how to reason about.
type ToolSpec struct {
	Name string
	// Key is the permission table key shared by every tool of the class.
	Key        string
	Class      Class
	SubjectArg string // argument matched against rule patterns
	DefaultArg string // subject when SubjectArg is absent
	Schema     string
}

// Subject extracts the value rules are matched against.
func (s *ToolSpec) Subject(args map[string]any) string {
	if v, ok := args[s.SubjectArg].(string); ok && v != "" {
		return v
	}
	return s.DefaultArg
}

var toolSpecs = map[string]*ToolSpec{
	"bash": {
		Name: "bash", Key: "bash", Class: ClassShell, SubjectArg: "command",
		Schema: `{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": {"type": "string", "minLength": 1},
    "timeout": {"type": "integer", "minimum": 1, "maximum": 600},
    "workdir": {"type": "string"}
  },
  "additionalProperties": false
}`,
	},
	"read": {
		Name: "read", Key: "read", Class: ClassRead, SubjectArg: "path",
		Schema: `{
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "offset": {"type": "integer", "minimum": 0},
    "limit": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`,
	},
	"list": {
		Name: "list", Key: "read", Class: ClassRead, SubjectArg: "path", DefaultArg: ".",
		Schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string"}
  },
  "additionalProperties": false
}`,
	},
	"glob": {
		Name: "glob", Key: "read", Class: ClassRead, SubjectArg: "pattern",
		Schema: `{
  "type": "object",
  "required": ["pattern"],
  "properties": {
    "pattern": {"type": "string", "minLength": 1},
    "path": {"type": "string"}
  },
  "additionalProperties": false
}`,
	},
	"grep": {
		Name: "grep", Key: "read", Class: ClassRead, SubjectArg: "path", DefaultArg: ".",
		Schema: `{
  "type": "object",
  "required": ["pattern"],
  "properties": {
    "pattern": {"type": "string", "minLength": 1},
    "path": {"type": "string"},
    "include": {"type": "string"}
  },
  "additionalProperties": false
}`,
	},
	"write": {
		Name: "write", Key: "edit", Class: ClassWrite, SubjectArg: "path",
		Schema: `{
  "type": "object",
  "required": ["path", "content"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "content": {"type": "string"}
  },
  "additionalProperties": false
}`,
	},
	"edit": {
		Name: "edit", Key: "edit", Class: ClassWrite, SubjectArg: "path",
		Schema: `{
  "type": "object",
  "required": ["path", "old_string", "new_string"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "old_string": {"type": "string", "minLength": 1},
    "new_string": {"type": "string"},
    "replace_all": {"type": "boolean"}
  },
  "additionalProperties": false
}`,
	},
	"webfetch": {
		Name: "webfetch", Key: "webfetch", Class: ClassNetwork, SubjectArg: "url",
		Schema: `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"},
    "max_bytes": {"type": "integer", "minimum": 1, "maximum": 8388608}
  },
  "additionalProperties": false
}`,
	},
}

// LookupTool returns the ToolSpec for a known tool.
func LookupTool(name string) (*ToolSpec, bool) {
	s, ok := toolSpecs[name]
	return s, ok
}

// ToolNames returns every tool the gate knows, in a stable order.
func ToolNames() []string {
	return []string{"bash", "read", "list", "glob", "grep", "write", "edit", "webfetch"}
}

var compiledSchemas sync.Map // tool name -> *jsonschema.Schema

func (s *ToolSpec) compiled() (*jsonschema.Schema, error) {
	if v, ok := compiledSchemas.Load(s.Name); ok {
		return v.(*jsonschema.Schema), nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(s.Schema))
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", s.Name, err)
	}
	c := jsonschema.NewCompiler()
	url := s.Name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema for %s: %w", s.Name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", s.Name, err)
	}
	compiledSchemas.Store(s.Name, sch)
	return sch, nil
}

// ValidateArgs checks args against the tool's argument schema.
func (s *ToolSpec) ValidateArgs(args map[string]any) error {
	sch, err := s.compiled()
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
