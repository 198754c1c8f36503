package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/auth"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/orchestrator"
)

// Registry resolves agent definitions.
type Registry interface {
	Lookup(name string) (*agents.Definition, error)
}

// Authorizer decides tool calls without executing them.
type Authorizer interface {
	Authorize(ctx context.Context, req *gate.Request) gate.Decision
}

// Runner executes an agent run.
type Runner interface {
	Run(ctx context.Context, agentName, input string) (*findings.Report, error)
}

// Confirmations resolves parked ask decisions.
type Confirmations interface {
	Resolve(id string, approve bool) error
}

// AgentGateService implements AgentGateServer.
type AgentGateService struct {
	registry      Registry
	gate          Authorizer
	runner        Runner
	confirmations Confirmations // nil when runs never park decisions
	logger        *zap.Logger
}

// NewAgentGateService creates the service with the given dependencies.
func NewAgentGateService(
	registry Registry,
	g Authorizer,
	runner Runner,
	confirmations Confirmations,
	logger *zap.Logger,
) *AgentGateService {
	return &AgentGateService{
		registry:      registry,
		gate:          g,
		runner:        runner,
		confirmations: confirmations,
		logger:        logger,
	}
}

// Authorize evaluates one tool call for an agent. Nothing is executed.
//
// Request fields: agent, tool, args (object), run_id (optional).
func (s *AgentGateService) Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	agentName := stringField(in, "agent")
	tool := stringField(in, "tool")
	if agentName == "" || tool == "" {
		return nil, status.Error(codes.InvalidArgument, "agent and tool are required")
	}
	def, err := s.registry.Lookup(agentName)
	if err != nil {
		return nil, lookupStatus(err)
	}

	var args map[string]any
	if v, ok := in.GetFields()["args"]; ok && v.GetStructValue() != nil {
		args = v.GetStructValue().AsMap()
	}

	runID := stringField(in, "run_id")
	if runID == "" {
		runID = "rpc"
	}
	dec := s.gate.Authorize(ctx, &gate.Request{
		RunID: runID,
		Agent: def,
		Tool:  tool,
		Args:  args,
	})
	return toStruct(dec)
}

// Run executes a primary agent and returns its report.
//
// Request fields: agent, input.
func (s *AgentGateService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	agentName := stringField(in, "agent")
	if agentName == "" {
		return nil, status.Error(codes.InvalidArgument, "agent is required")
	}

	report, err := s.runner.Run(ctx, agentName, stringField(in, "input"))
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrUnknownAgent):
			return nil, lookupStatus(err)
		case errors.Is(err, orchestrator.ErrNotInvocable):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		s.logger.Error("run failed", zap.String("agent", agentName), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "run failed: %v", err)
	}

	s.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("agent", report.Agent),
		zap.String("state", report.State),
		zap.Int("findings", len(report.Findings)),
	)
	return toStruct(report)
}

// ResolveConfirmation approves or rejects a parked ask decision. Only
// operator keys may resolve.
//
// Request fields: id, approve (bool).
func (s *AgentGateService) ResolveConfirmation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.confirmations == nil {
		return nil, status.Error(codes.FailedPrecondition, "confirmations are not queued on this server")
	}
	if p, ok := auth.PrincipalFrom(ctx); !ok || !p.Operator {
		return nil, status.Error(codes.PermissionDenied, "operator key required")
	}
	id := stringField(in, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	approve := in.GetFields()["approve"].GetBoolValue()

	if err := s.confirmations.Resolve(id, approve); err != nil {
		if errors.Is(err, gate.ErrNoSuchConfirmation) {
			return nil, status.Errorf(codes.NotFound, "no pending confirmation %s", id)
		}
		return nil, status.Errorf(codes.Internal, "resolve: %v", err)
	}
	return structpb.NewStruct(map[string]any{"id": id, "approved": approve})
}

func lookupStatus(err error) error {
	var lerr *agents.LookupError
	if errors.As(err, &lerr) {
		return status.Error(codes.NotFound, lerr.Error())
	}
	return status.Error(codes.NotFound, err.Error())
}

func stringField(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "toStruct: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "toStruct: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "toStruct: %v", err)
	}
	return out, nil
}
