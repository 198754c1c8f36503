package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/triage-ai/agentgate/internal/agents"
)

// Check is one stage of a gate decision. Implementations must be safe for
// concurrent use.
type Check interface {
	// Name returns the check's unique identifier.
	Name() string

	// Check returns a verdict, or nil when it has no opinion on the call.
	Check(ctx context.Context, call *call) *Verdict
}

// call is a request with its tool resolved.
type call struct {
	*Request
	spec    *ToolSpec
	subject string
}

// Verdict is the outcome of a single check.
type Verdict struct {
	Action agents.Action
	Rule   string
	Reason string
}

// toolEnabledCheck denies tools switched off in the agent's tools map.
type toolEnabledCheck struct{}

func (toolEnabledCheck) Name() string { return "tool_enabled" }

func (toolEnabledCheck) Check(_ context.Context, c *call) *Verdict {
	if c.Agent.ToolEnabled(c.Tool) {
		return nil
	}
	return &Verdict{Action: agents.ActionDeny, Reason: fmt.Sprintf("tool %s is disabled for agent %s", c.Tool, c.Agent.Name)}
}

// argumentCheck denies calls whose arguments do not fit the tool's schema.
type argumentCheck struct{}

func (argumentCheck) Name() string { return "argument_validation" }

func (argumentCheck) Check(_ context.Context, c *call) *Verdict {
	if err := c.spec.ValidateArgs(c.Args); err != nil {
		return &Verdict{Action: agents.ActionDeny, Reason: err.Error()}
	}
	return nil
}

// ruleCheck evaluates the agent's permission table.
type ruleCheck struct {
	workspace string
}

func (ruleCheck) Name() string { return "rules" }

func (r ruleCheck) Check(_ context.Context, c *call) *Verdict {
	keys := []string{c.Tool}
	if c.spec.Key != c.Tool {
		keys = append(keys, c.spec.Key)
	}

	if c.spec.Class != ClassShell {
		subject := c.subject
		if c.spec.Class == ClassRead || c.spec.Class == ClassWrite {
			subject, _ = relativeTo(r.workspace, c.subject)
		}
		return r.evaluate(c, keys, subject)
	}

	// Every simple command in a compound line must pass on its own.
	segments := splitCommand(c.subject)
	if len(segments) == 0 {
		segments = []string{strings.TrimSpace(c.subject)}
	}
	var worst *Verdict
	for _, seg := range segments {
		v := r.evaluate(c, keys, seg)
		if worst == nil || agents.MoreRestrictive(worst.Action, v.Action) != worst.Action {
			worst = v
		}
		if worst.Action == agents.ActionDeny {
			break
		}
	}
	return worst
}

func (ruleCheck) evaluate(c *call, keys []string, subject string) *Verdict {
	for _, key := range keys {
		rules, _ := c.Agent.RulesFor(key)
		for _, rule := range rules {
			if !ruleMatches(c.spec.Class, rule.Pattern, subject) {
				continue
			}
			return &Verdict{
				Action: rule.Action,
				Rule:   fmt.Sprintf("%s[%q]", key, rule.Pattern),
				Reason: fmt.Sprintf("%s matched %q", truncate(subject, 60), rule.Pattern),
			}
		}
	}
	action := c.spec.Class.defaultAction()
	return &Verdict{
		Action: action,
		Rule:   "default",
		Reason: fmt.Sprintf("no rule matched %s; %s tools default to %s", truncate(subject, 60), c.spec.Class, action),
	}
}

func ruleMatches(class Class, pattern, subject string) bool {
	switch class {
	case ClassRead, ClassWrite:
		return matchPath(pattern, subject)
	default:
		return matchWildcard(pattern, subject)
	}
}

// destructiveCheck raises known-dangerous shell commands to ask or deny
// regardless of the rule that matched.
type destructiveCheck struct{}

func (destructiveCheck) Name() string { return "destructive_command" }

func (destructiveCheck) Check(_ context.Context, c *call) *Verdict {
	if c.spec.Class != ClassShell {
		return nil
	}
	hazards := inspectCommand(c.subject)
	if len(hazards) == 0 {
		return nil
	}
	action := agents.ActionAllow
	details := make([]string, 0, len(hazards))
	for _, h := range hazards {
		action = agents.MoreRestrictive(action, h.Action)
		details = append(details, h.Detail)
	}
	return &Verdict{Action: action, Reason: "destructive command: " + strings.Join(details, ", ")}
}

// protectedPathCheck asks before writes to repository metadata, env files
// or anything outside the workspace.
type protectedPathCheck struct {
	workspace string
}

var protectedPatterns = []string{".git", ".git/**", "**/.git", "**/.git/**", "**/.env*", ".env*"}

func (protectedPathCheck) Name() string { return "protected_path" }

func (p protectedPathCheck) Check(_ context.Context, c *call) *Verdict {
	if c.spec.Class != ClassWrite {
		return nil
	}
	rel, inside := relativeTo(p.workspace, c.subject)
	if !inside {
		return &Verdict{Action: agents.ActionAsk, Reason: "write outside the workspace: " + rel}
	}
	for _, pattern := range protectedPatterns {
		if matchPath(pattern, rel) {
			return &Verdict{Action: agents.ActionAsk, Reason: "write to protected path: " + rel}
		}
	}
	return nil
}

// rateLimitCheck caps tool calls per agent.
type rateLimitCheck struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimitCheck(perSecond float64, burst int) *rateLimitCheck {
	if burst < 1 {
		burst = max(1, int(perSecond))
	}
	return &rateLimitCheck{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (*rateLimitCheck) Name() string { return "rate_limit" }

func (r *rateLimitCheck) Check(_ context.Context, c *call) *Verdict {
	r.mu.Lock()
	lim, ok := r.limiters[c.Agent.Name]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[c.Agent.Name] = lim
	}
	r.mu.Unlock()

	if lim.Allow() {
		return nil
	}
	return &Verdict{Action: agents.ActionDeny, Reason: fmt.Sprintf("agent %s exceeded %.2f tool calls/s", c.Agent.Name, float64(r.limit))}
}
