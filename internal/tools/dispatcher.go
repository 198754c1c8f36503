package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/metrics"
)

// ErrUnknownTool is returned for a tool name with no implementation.
var ErrUnknownTool = errors.New("unknown tool")

// Result is what a tool hands back to the agent.
type Result struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Env is the execution environment shared by tool implementations.
type Env struct {
	Workspace string
	Logger    *zap.Logger
}

// Tool is one tool implementation. Arguments have already passed the gate,
// including schema validation.
type Tool interface {
	Name() string
	Run(ctx context.Context, env *Env, args map[string]any) (*Result, error)
}

// Runner invokes tools on behalf of one agent within one run.
type Runner interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (*Result, error)
}

// Dispatcher is the only path from an agent to a tool implementation. Every
// call is authorized by the gate before it runs.
type Dispatcher struct {
	gate      *gate.Gate
	confirmer gate.Confirmer
	tools     map[string]Tool
	env       *Env
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with the built-in tools. A nil confirmer
// turns every ask decision into a *gate.ConfirmationRequiredError.
func NewDispatcher(g *gate.Gate, confirmer gate.Confirmer, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		gate:      g,
		confirmer: confirmer,
		tools:     make(map[string]Tool),
		env:       &Env{Workspace: g.Workspace(), Logger: logger},
		logger:    logger,
	}
	for _, t := range Builtin() {
		d.Register(t)
	}
	return d
}

// Register adds or replaces a tool implementation.
func (d *Dispatcher) Register(t Tool) {
	d.tools[t.Name()] = t
}

// For returns a runner bound to an agent and run.
func (d *Dispatcher) For(def *agents.Definition, runID string) Runner {
	return &runner{d: d, def: def, runID: runID}
}

type runner struct {
	d     *Dispatcher
	def   *agents.Definition
	runID string
}

func (r *runner) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool, ok := r.d.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	req := &gate.Request{RunID: r.runID, Agent: r.def, Tool: name, Args: args}
	dec := r.d.gate.Authorize(ctx, req)
	if err := r.d.gate.Resolve(ctx, req, dec, r.d.confirmer); err != nil {
		r.d.logger.Info("tool call blocked",
			zap.String("run_id", r.runID),
			zap.String("agent", r.def.Name),
			zap.String("tool", name),
			zap.String("action", string(dec.Action)),
			zap.Error(err),
		)
		return nil, err
	}

	start := time.Now()
	res, err := tool.Run(ctx, r.d.env, args)
	metrics.Record().ToolInvocation(name, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// Builtin returns the standard tool set.
func Builtin() []Tool {
	return []Tool{
		bashTool{},
		readTool{},
		listTool{},
		globTool{},
		grepTool{},
		writeTool{},
		editTool{},
		newWebFetchTool(),
	}
}
