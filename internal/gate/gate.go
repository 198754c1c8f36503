package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/metrics"
	"github.com/triage-ai/agentgate/internal/storage"
)

// maxSubjectLen bounds the subject stored in audit records.
const maxSubjectLen = 512

// Request is one tool call awaiting a decision.
type Request struct {
	RunID string
	Agent *agents.Definition
	Tool  string
	Args  map[string]any
}

// Decision is the gate's answer for a request.
type Decision struct {
	Action  agents.Action `json:"action"`
	Rule    string        `json:"rule,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Subject string        `json:"subject"`
}

// Options configures a Gate.
type Options struct {
	// Workspace is the root file writes are confined to. Defaults to the
	// working directory.
	Workspace string
	// ToolRate is the per-agent tool call budget in calls per second.
	// Zero disables rate limiting.
	ToolRate  float64
	ToolBurst int
	Audit     storage.AuditWriter
	Logger    *zap.Logger
}

// Gate decides whether a tool call may proceed. It is safe for concurrent use.
type Gate struct {
	checks    []Check
	workspace string
	audit     storage.AuditWriter
	logger    *zap.Logger
}

// New creates a gate with the standard checks.
func New(opts Options) (*Gate, error) {
	ws := opts.Workspace
	if ws == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		ws = wd
	}
	ws, err := filepath.Abs(ws)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = storage.NewLogWriter(opts.Logger)
	}

	checks := []Check{
		toolEnabledCheck{},
		argumentCheck{},
		ruleCheck{workspace: ws},
		destructiveCheck{},
		protectedPathCheck{workspace: ws},
	}
	if opts.ToolRate > 0 {
		checks = append(checks, newRateLimitCheck(opts.ToolRate, opts.ToolBurst))
	}

	return &Gate{
		checks:    checks,
		workspace: ws,
		audit:     opts.Audit,
		logger:    opts.Logger,
	}, nil
}

// Workspace returns the absolute workspace root.
func (g *Gate) Workspace() string { return g.workspace }

// Authorize runs every check and returns the most restrictive verdict
// (deny > ask > allow). Exactly one audit record is written per call.
func (g *Gate) Authorize(ctx context.Context, req *Request) Decision {
	start := time.Now()
	dec := g.decide(ctx, req)
	latency := time.Since(start)

	metrics.Record().GateDecision(req.Tool, string(dec.Action))
	g.audit.Write(&storage.AuditRecord{
		ID:        uuid.NewString(),
		RunID:     req.RunID,
		Timestamp: start.UTC(),
		Agent:     agentName(req),
		Tool:      req.Tool,
		Subject:   truncate(dec.Subject, maxSubjectLen),
		Decision:  string(dec.Action),
		Rule:      dec.Rule,
		Reason:    dec.Reason,
		Stage:     storage.StageDecision,
		LatencyMs: float32(latency.Microseconds()) / 1000,
	})

	g.logger.Debug("gate decision",
		zap.String("run_id", req.RunID),
		zap.String("agent", agentName(req)),
		zap.String("tool", req.Tool),
		zap.String("action", string(dec.Action)),
		zap.String("rule", dec.Rule),
		zap.String("reason", dec.Reason),
	)
	return dec
}

func (g *Gate) decide(ctx context.Context, req *Request) Decision {
	if req.Agent == nil {
		return Decision{Action: agents.ActionDeny, Reason: "request has no agent"}
	}
	spec, ok := LookupTool(req.Tool)
	if !ok {
		return Decision{Action: agents.ActionDeny, Reason: fmt.Sprintf("unknown tool %q", req.Tool)}
	}
	c := &call{Request: req, spec: spec, subject: spec.Subject(req.Args)}

	verdicts := make([]*Verdict, 0, len(g.checks))
	for _, check := range g.checks {
		if ctx.Err() != nil {
			verdicts = append(verdicts, &Verdict{Action: agents.ActionDeny, Reason: "canceled: " + ctx.Err().Error()})
			break
		}
		v := check.Check(ctx, c)
		if v == nil {
			continue
		}
		if v.Rule == "" {
			v.Rule = check.Name()
		}
		verdicts = append(verdicts, v)
		if v.Action == agents.ActionDeny {
			break
		}
	}

	dec := Aggregate(verdicts)
	dec.Subject = c.subject
	return dec
}

// Aggregate combines check verdicts. The most restrictive action wins; the
// reasons at that level are joined and the first rule reported at that level
// is kept. No verdicts means allow.
func Aggregate(verdicts []*Verdict) Decision {
	action := agents.ActionAllow
	for _, v := range verdicts {
		action = agents.MoreRestrictive(action, v.Action)
	}

	var dec Decision
	dec.Action = action
	var reasons []string
	for _, v := range verdicts {
		if v.Action != action {
			continue
		}
		if dec.Rule == "" {
			dec.Rule = v.Rule
		}
		if v.Reason != "" {
			reasons = append(reasons, v.Reason)
		}
	}
	dec.Reason = strings.Join(reasons, "; ")
	return dec
}

// Resolve turns a decision into permission to proceed. Allow returns nil and
// deny returns a *DeniedError. Ask blocks on the confirmer and records the
// outcome as a second audit record; without a confirmer it returns a
// *ConfirmationRequiredError.
func (g *Gate) Resolve(ctx context.Context, req *Request, dec Decision, confirmer Confirmer) error {
	switch dec.Action {
	case agents.ActionAllow:
		return nil
	case agents.ActionAsk:
	default:
		return g.denied(req, dec)
	}

	p := newPending(req, dec)
	if confirmer == nil {
		return &ConfirmationRequiredError{Pending: p}
	}

	approved, err := confirmer.Confirm(ctx, p)
	metrics.Record().Confirmation(approved, err)

	outcome := Decision{Action: agents.ActionDeny, Rule: dec.Rule, Subject: dec.Subject, Reason: "rejected at confirmation"}
	switch {
	case err != nil:
		outcome.Reason = "confirmation failed: " + err.Error()
	case approved:
		outcome.Action = agents.ActionAllow
		outcome.Reason = "approved at confirmation"
	}
	g.audit.Write(&storage.AuditRecord{
		ID:        uuid.NewString(),
		RunID:     req.RunID,
		Timestamp: time.Now().UTC(),
		Agent:     agentName(req),
		Tool:      req.Tool,
		Subject:   truncate(dec.Subject, maxSubjectLen),
		Decision:  string(outcome.Action),
		Rule:      dec.Rule,
		Reason:    outcome.Reason,
		Stage:     storage.StageConfirmation,
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("Resolve: %w", err)
		}
		return g.denied(req, outcome)
	}
	if !approved {
		return g.denied(req, outcome)
	}
	return nil
}

func (g *Gate) denied(req *Request, dec Decision) error {
	return &DeniedError{
		Agent:   agentName(req),
		Tool:    req.Tool,
		Subject: dec.Subject,
		Rule:    dec.Rule,
		Reason:  dec.Reason,
	}
}

func agentName(req *Request) string {
	if req.Agent == nil {
		return ""
	}
	return req.Agent.Name
}
