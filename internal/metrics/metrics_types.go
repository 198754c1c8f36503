package metrics

import "time"

const (
	GateDecisionMetricName        = "agentgate_gate_decisions_total"
	GateDecisionMetricDescription = "The total number of permission gate decisions"
	GateDecisionLabelAction       = "action"
	GateDecisionLabelTool         = "tool"

	ConfirmationMetricName        = "agentgate_confirmations_total"
	ConfirmationMetricDescription = "The total number of ask confirmations resolved"
	ConfirmationLabelOutcome      = "outcome"

	ToolInvocationMetricName        = "agentgate_tool_invocation_seconds"
	ToolInvocationMetricDescription = "Tool execution latency in seconds"
	ToolInvocationLabelTool         = "tool"

	RunMetricName        = "agentgate_runs_total"
	RunMetricDescription = "The total number of orchestrated runs by final state"
	RunLabelState        = "state"

	SubagentFailureMetricName        = "agentgate_subagent_failures_total"
	SubagentFailureMetricDescription = "The total number of failed subagent invocations"
	SubagentFailureLabelKind         = "kind"

	AuditDroppedMetricName        = "agentgate_audit_records_dropped_total"
	AuditDroppedMetricDescription = "The total number of audit records dropped because the writer buffer was full"
)

// Recorder is the metrics surface used by the runtime.
type Recorder interface {
	GateDecision(tool, action string)
	Confirmation(approved bool, err error)
	ToolInvocation(tool string, elapsed time.Duration)
	Run(state string)
	SubagentFailure(kind string)
	AuditDropped()
}
