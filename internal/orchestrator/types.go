package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/tools"
)

// State is the lifecycle position of a run.
type State string

const (
	StatePending           State = "pending"
	StateDispatching       State = "dispatching"
	StateAwaitingSubagents State = "awaiting_subagents"
	StateSynthesizing      State = "synthesizing"
	StateDone              State = "done"
	StatePartialFailure    State = "partial_failure"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StatePartialFailure || s == StateFailed
}

// ErrNotInvocable is returned when a run names an agent that may only be
// used as a subagent.
var ErrNotInvocable = errors.New("agent cannot be invoked directly")

// Invocation is one agent execution within a run.
type Invocation struct {
	ID      string
	RunID   string
	Agent   *agents.Definition
	Input   string
	Parent  string // primary agent name; empty when the primary runs itself
	Timeout time.Duration
}

// Output is what an executor produced for one invocation.
type Output struct {
	Findings []findings.Finding
	Summary  string
}

// Executor is the inference collaborator. It drives one agent to completion,
// calling tools only through the runner it is given.
type Executor interface {
	Execute(ctx context.Context, inv *Invocation, runner tools.Runner) (*Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, inv *Invocation, runner tools.Runner) (*Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, inv *Invocation, runner tools.Runner) (*Output, error) {
	return f(ctx, inv, runner)
}

// Registry resolves agent names.
type Registry interface {
	Lookup(name string) (*agents.Definition, error)
}

// RunnerFactory binds tool runners to an agent and run.
type RunnerFactory interface {
	For(def *agents.Definition, runID string) tools.Runner
}

// FailureKind classifies a subagent failure.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureDenied       FailureKind = "denied"
	FailureError        FailureKind = "error"
	FailureUnknownAgent FailureKind = "unknown_agent"
	FailureCanceled     FailureKind = "canceled"
)

// SubagentError records why one component of a run failed. It never aborts
// sibling invocations.
type SubagentError struct {
	Agent string
	Kind  FailureKind
	Err   error
}

func (e *SubagentError) Error() string {
	return fmt.Sprintf("subagent %s failed (%s): %v", e.Agent, e.Kind, e.Err)
}

func (e *SubagentError) Unwrap() error { return e.Err }
