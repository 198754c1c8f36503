package agents

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var errNoFrontmatter = errors.New("missing --- header block")

// header mirrors the YAML front-matter of an agent document. Permission is
// kept as a node so rule order survives decoding.
type header struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Mode        Mode            `yaml:"mode"`
	Model       string          `yaml:"model"`
	Temperature *float64        `yaml:"temperature"`
	Timeout     duration        `yaml:"timeout"`
	Tools       map[string]bool `yaml:"tools"`
	Permission  yaml.Node       `yaml:"permission"`
	Subagents   []subagentEntry `yaml:"subagents"`
}

// duration accepts "90s" style strings or a bare number of seconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a scalar", n.Line)
	}
	if secs, err := strconv.Atoi(n.Value); err == nil {
		*d = duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid timeout %q", n.Line, n.Value)
	}
	*d = duration(v)
	return nil
}

// subagentEntry accepts either a bare agent name or a mapping.
type subagentEntry struct {
	Agent   string   `yaml:"agent"`
	Input   string   `yaml:"input"`
	Timeout duration `yaml:"timeout"`
}

func (s *subagentEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.Agent = n.Value
		return nil
	}
	type plain subagentEntry
	return n.Decode((*plain)(s))
}

// splitFrontmatter separates the --- delimited header from the markdown body.
func splitFrontmatter(content []byte) ([]byte, string, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	first, rest, ok := bytes.Cut(content, []byte("\n"))
	if !ok || strings.TrimSpace(string(first)) != "---" {
		return nil, "", errNoFrontmatter
	}

	var head bytes.Buffer
	for len(rest) > 0 {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\n"))
		if strings.TrimSpace(string(line)) == "---" {
			return head.Bytes(), strings.TrimSpace(string(rest)), nil
		}
		head.Write(line)
		head.WriteByte('\n')
	}
	return nil, "", errors.New("unterminated --- header block")
}

// Parse decodes one agent document. fallbackName is used when the header has
// no name field (typically the file stem).
func Parse(content []byte, fallbackName, source string) (*Definition, error) {
	name := fallbackName
	fail := func(err error) (*Definition, error) {
		return nil, &ParseError{Name: name, Source: source, Err: err}
	}

	head, body, err := splitFrontmatter(content)
	if err != nil {
		return fail(err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(head, &raw); err != nil {
		return fail(fmt.Errorf("invalid YAML header: %w", err))
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if n, ok := raw["name"].(string); ok && n != "" {
		name = n
	}
	if err := validateHeader(raw); err != nil {
		return fail(err)
	}

	var h header
	if err := yaml.Unmarshal(head, &h); err != nil {
		return fail(fmt.Errorf("invalid YAML header: %w", err))
	}
	if name == "" {
		return fail(errors.New("agent has no name"))
	}

	perms, err := decodePermissions(&h.Permission)
	if err != nil {
		return fail(err)
	}

	def := &Definition{
		Name:        name,
		Description: strings.TrimSpace(h.Description),
		Mode:        h.Mode,
		Model:       h.Model,
		Temperature: h.Temperature,
		Timeout:     time.Duration(h.Timeout),
		Tools:       h.Tools,
		Permissions: perms,
		Prompt:      body,
		Source:      source,
	}
	for _, s := range h.Subagents {
		def.Subagents = append(def.Subagents, SubagentTask{
			Agent:   s.Agent,
			Input:   s.Input,
			Timeout: time.Duration(s.Timeout),
		})
	}
	return def, nil
}

// decodePermissions walks the permission mapping in document order. A scalar
// value is shorthand for a single catch-all rule.
func decodePermissions(n *yaml.Node) (map[string][]Rule, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: permission must be a mapping", n.Line)
	}

	perms := make(map[string][]Rule, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		tool := n.Content[i].Value
		val := n.Content[i+1]

		switch val.Kind {
		case yaml.ScalarNode:
			a, err := ParseAction(val.Value)
			if err != nil {
				return nil, fmt.Errorf("line %d: permission.%s: %w", val.Line, tool, err)
			}
			perms[tool] = []Rule{{Pattern: "*", Action: a}}
		case yaml.MappingNode:
			rules := make([]Rule, 0, len(val.Content)/2)
			for j := 0; j+1 < len(val.Content); j += 2 {
				pattern := val.Content[j].Value
				a, err := ParseAction(val.Content[j+1].Value)
				if err != nil {
					return nil, fmt.Errorf("line %d: permission.%s[%q]: %w", val.Content[j+1].Line, tool, pattern, err)
				}
				rules = append(rules, Rule{Pattern: pattern, Action: a})
			}
			perms[tool] = rules
		default:
			return nil, fmt.Errorf("line %d: permission.%s must be an action or a pattern mapping", val.Line, tool)
		}
	}
	return perms, nil
}
