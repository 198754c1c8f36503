package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/metrics"
)

const (
	// DefaultSubagentTimeout applies when neither the task nor the agent sets one.
	DefaultSubagentTimeout = 5 * time.Minute
	// DefaultMaxParallel bounds concurrent invocations per run.
	DefaultMaxParallel = 4
)

// Config tunes orchestration.
type Config struct {
	DefaultTimeout time.Duration
	MaxParallel    int
	Merge          findings.MergeConfig
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: DefaultSubagentTimeout,
		MaxParallel:    DefaultMaxParallel,
		Merge:          findings.DefaultMergeConfig(),
	}
}

// Orchestrator runs primary agents and fans out to their subagents.
type Orchestrator struct {
	registry Registry
	runners  RunnerFactory
	executor Executor
	cfg      Config
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(registry Registry, runners RunnerFactory, executor Executor, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultSubagentTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Merge.KeywordOverlap <= 0 {
		cfg.Merge = findings.DefaultMergeConfig()
	}
	return &Orchestrator{
		registry: registry,
		runners:  runners,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// task is one planned invocation. A task whose agent could not be resolved
// carries the failure instead.
type task struct {
	inv  *Invocation
	name string
	fail *SubagentError
}

// outcome is the result slot each invocation writes exactly once.
type outcome struct {
	status findings.ComponentStatus
	set    findings.FindingSet
}

// run tracks the state of one Run call.
type run struct {
	id     string
	agent  string
	state  State
	logger *zap.Logger
}

func (r *run) transition(s State) {
	r.logger.Debug("run state",
		zap.String("run_id", r.id),
		zap.String("from", string(r.state)),
		zap.String("to", string(s)),
	)
	r.state = s
	if s.Terminal() {
		metrics.Record().Run(string(s))
	}
}

// Run executes agentName against input and returns the merged report.
//
// An unknown or non-invocable primary agent fails the run with no report.
// Subagent failures never abort the run; they are recorded as failed
// components. When ctx is canceled the partial report is returned together
// with the context error.
func (o *Orchestrator) Run(ctx context.Context, agentName, input string) (*findings.Report, error) {
	r := &run{id: ulid.Make().String(), agent: agentName, state: StatePending, logger: o.logger}
	started := time.Now().UTC()

	def, err := o.registry.Lookup(agentName)
	if err != nil {
		r.transition(StateFailed)
		return nil, fmt.Errorf("Run: %w", err)
	}
	if !def.Mode.Invocable() {
		r.transition(StateFailed)
		return nil, fmt.Errorf("Run: %w: %s has mode %s", ErrNotInvocable, def.Name, def.Mode)
	}

	r.transition(StateDispatching)
	tasks := o.plan(r.id, def, input)
	o.logger.Info("run dispatching",
		zap.String("run_id", r.id),
		zap.String("agent", def.Name),
		zap.Int("invocations", len(tasks)),
	)

	r.transition(StateAwaitingSubagents)
	outcomes := make([]outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallel)
	for i, t := range tasks {
		if t.fail != nil {
			outcomes[i] = failedOutcome(t.name, t.fail, 0)
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.invoke(ctx, t.inv)
			return nil
		})
	}
	_ = g.Wait()

	components := make([]findings.ComponentStatus, 0, len(outcomes))
	sets := make([]findings.FindingSet, 0, len(outcomes))
	completed := 0
	for _, out := range outcomes {
		components = append(components, out.status)
		if out.status.State == findings.ComponentCompleted {
			completed++
			sets = append(sets, out.set)
		}
	}

	if ctx.Err() != nil {
		report := o.finish(r, findings.Merge(sets, o.cfg.Merge), components, started, StatePartialFailure)
		return report, fmt.Errorf("Run: %w", ctx.Err())
	}
	if completed == 0 {
		return o.finish(r, findings.Merge(nil, o.cfg.Merge), components, started, StatePartialFailure), nil
	}

	r.transition(StateSynthesizing)
	return o.finish(r, findings.Merge(sets, o.cfg.Merge), components, started, StateDone), nil
}

func (o *Orchestrator) finish(r *run, report *findings.Report, components []findings.ComponentStatus, started time.Time, final State) *findings.Report {
	r.transition(final)
	report.RunID = r.id
	report.Agent = r.agent
	report.State = string(final)
	report.StartedAt = started
	report.FinishedAt = time.Now().UTC()
	report.Finalize(components)

	o.logger.Info("run finished",
		zap.String("run_id", r.id),
		zap.String("agent", r.agent),
		zap.String("state", string(final)),
		zap.Int("findings", report.Summary.Total),
		zap.Int("failed_components", len(report.Failed())),
	)
	return report
}

// plan turns the primary's declared subagents into invocations. A primary
// without subagents runs itself.
func (o *Orchestrator) plan(runID string, def *agents.Definition, input string) []task {
	if len(def.Subagents) == 0 {
		return []task{{
			name: def.Name,
			inv: &Invocation{
				ID:      uuid.NewString(),
				RunID:   runID,
				Agent:   def,
				Input:   input,
				Timeout: o.timeoutFor(0, def),
			},
		}}
	}

	tasks := make([]task, 0, len(def.Subagents))
	for _, st := range def.Subagents {
		sub, err := o.registry.Lookup(st.Agent)
		if err != nil {
			tasks = append(tasks, task{name: st.Agent, fail: &SubagentError{Agent: st.Agent, Kind: FailureUnknownAgent, Err: err}})
			continue
		}
		if !sub.Mode.Delegable() {
			tasks = append(tasks, task{name: st.Agent, fail: &SubagentError{
				Agent: st.Agent,
				Kind:  FailureError,
				Err:   fmt.Errorf("%s has mode %s and cannot be delegated to", sub.Name, sub.Mode),
			}})
			continue
		}
		tasks = append(tasks, task{
			name: sub.Name,
			inv: &Invocation{
				ID:      uuid.NewString(),
				RunID:   runID,
				Agent:   sub,
				Input:   taskInput(st.Input, input),
				Parent:  def.Name,
				Timeout: o.timeoutFor(st.Timeout, sub),
			},
		})
	}
	return tasks
}

func taskInput(taskIn, runIn string) string {
	switch {
	case taskIn == "":
		return runIn
	case runIn == "":
		return taskIn
	}
	return taskIn + "\n\n" + runIn
}

func (o *Orchestrator) timeoutFor(taskTimeout time.Duration, def *agents.Definition) time.Duration {
	switch {
	case taskTimeout > 0:
		return taskTimeout
	case def.Timeout > 0:
		return def.Timeout
	}
	return o.cfg.DefaultTimeout
}

type execResult struct {
	out *Output
	err error
}

// invoke runs one invocation under its own deadline and converts any failure
// into a failed component. The executor runs on its own goroutine so an
// executor that ignores ctx cannot hold the run past the deadline; its
// late result is discarded.
func (o *Orchestrator) invoke(parent context.Context, inv *Invocation) outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, inv.Timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("executor panicked",
					zap.String("run_id", inv.RunID),
					zap.String("agent", inv.Agent.Name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- execResult{err: fmt.Errorf("executor panicked: %v", p)}
			}
		}()
		out, err := o.executor.Execute(ctx, inv, o.runners.For(inv.Agent, inv.RunID))
		done <- execResult{out: out, err: err}
	}()

	var res execResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	elapsed := time.Since(start)

	if res.err == nil && ctx.Err() != nil {
		res.err = ctx.Err()
	}
	if res.err != nil {
		serr := classify(parent, ctx, inv, res.err)
		o.logger.Warn("subagent failed",
			zap.String("run_id", inv.RunID),
			zap.String("agent", inv.Agent.Name),
			zap.String("kind", string(serr.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(res.err),
		)
		return failedOutcome(inv.Agent.Name, serr, elapsed)
	}
	out := res.out
	if out == nil {
		out = &Output{}
	}

	return outcome{
		status: findings.ComponentStatus{
			Agent:      inv.Agent.Name,
			State:      findings.ComponentCompleted,
			Findings:   len(out.Findings),
			Summary:    out.Summary,
			DurationMs: elapsed.Milliseconds(),
		},
		set: findings.FindingSet{Agent: inv.Agent.Name, Findings: out.Findings},
	}
}

// classify maps an invocation error to a failure kind. ctx is the
// invocation's own context, parent the run's.
func classify(parent, ctx context.Context, inv *Invocation, err error) *SubagentError {
	kind := FailureError
	switch {
	case parent.Err() != nil:
		kind = FailureCanceled
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
		err = fmt.Errorf("no result within %s: %w", inv.Timeout, err)
	case errors.Is(err, gate.ErrPermissionDenied), errors.Is(err, gate.ErrConfirmationRequired):
		kind = FailureDenied
	}
	return &SubagentError{Agent: inv.Agent.Name, Kind: kind, Err: err}
}

func failedOutcome(agent string, serr *SubagentError, elapsed time.Duration) outcome {
	metrics.Record().SubagentFailure(string(serr.Kind))
	return outcome{status: findings.ComponentStatus{
		Agent:      agent,
		State:      findings.ComponentFailed,
		Kind:       string(serr.Kind),
		Reason:     serr.Err.Error(),
		DurationMs: elapsed.Milliseconds(),
	}}
}
