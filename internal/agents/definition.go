package agents

import (
	"fmt"
	"strings"
	"time"
)

// Mode controls how an agent may be invoked.
type Mode string

const (
	ModePrimary  Mode = "primary"  // invoked directly by a user
	ModeSubagent Mode = "subagent" // invoked only by orchestration
	ModeAll      Mode = "all"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePrimary, ModeSubagent, ModeAll:
		return true
	}
	return false
}

// Invocable reports whether a user may run the agent directly.
func (m Mode) Invocable() bool {
	return m == ModePrimary || m == ModeAll
}

// Delegable reports whether a primary agent may dispatch to this agent.
func (m Mode) Delegable() bool {
	return m == ModeSubagent || m == ModeAll
}

// Action is the outcome a permission rule assigns to a matching tool call.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// ParseAction parses allow, ask or deny.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAllow, ActionAsk, ActionDeny:
		return a, nil
	}
	return "", fmt.Errorf("unknown permission action %q", s)
}

// rank orders actions by restrictiveness.
func (a Action) rank() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionAsk:
		return 1
	default:
		return 2
	}
}

// MoreRestrictive returns whichever of a and b is stricter (deny > ask > allow).
func MoreRestrictive(a, b Action) Action {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Rule maps a pattern to an action. Rules are evaluated in declared order.
type Rule struct {
	Pattern string `json:"pattern"`
	Action  Action `json:"action"`
}

// SubagentTask is one subagent a primary agent dispatches to.
type SubagentTask struct {
	Agent   string        `json:"agent"`
	Input   string        `json:"input,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Definition is a loaded agent persona. Definitions are immutable once the
// registry is built; callers must not modify them.
type Definition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Mode        Mode              `json:"mode"`
	Model       string            `json:"model,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Tools       map[string]bool   `json:"tools,omitempty"`
	Permissions map[string][]Rule `json:"permission,omitempty"`
	Subagents   []SubagentTask    `json:"subagents,omitempty"`
	Prompt      string            `json:"-"`
	Source      string            `json:"source"`
}

// ToolEnabled reports whether the agent may use a tool at all. Tools not
// mentioned in the tools map are enabled unless a "*" entry says otherwise.
func (d *Definition) ToolEnabled(tool string) bool {
	if v, ok := d.Tools[tool]; ok {
		return v
	}
	if v, ok := d.Tools["*"]; ok {
		return v
	}
	return true
}

// RulesFor returns the rules declared under the first key present in the
// permission table, along with that key.
func (d *Definition) RulesFor(keys ...string) ([]Rule, string) {
	for _, k := range keys {
		if rules, ok := d.Permissions[k]; ok {
			return rules, k
		}
	}
	return nil, ""
}
