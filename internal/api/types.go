package api

import (
	"time"

	"github.com/triage-ai/agentgate/internal/agents"
)

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Detail      string   `json:"detail"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// AgentSummaryResp is one entry of GET /v1/agents.
type AgentSummaryResp struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Mode        agents.Mode `json:"mode"`
	Source      string      `json:"source"`
}

// AgentListResp is the body of GET /v1/agents.
type AgentListResp struct {
	Agents []AgentSummaryResp `json:"agents"`
}

// AgentResp is the body of GET /v1/agents/:name.
type AgentResp struct {
	*agents.Definition
	Prompt string `json:"prompt"`
}

// RunReq is the JSON body for POST /v1/runs.
type RunReq struct {
	Agent string `json:"agent" binding:"required"`
	Input string `json:"input"`
}

// AuthorizeReq is the JSON body for POST /v1/authorize.
type AuthorizeReq struct {
	Agent string         `json:"agent" binding:"required"`
	Tool  string         `json:"tool" binding:"required"`
	Args  map[string]any `json:"args"`
	RunID string         `json:"run_id"`
}

// ResolveReq is the JSON body for POST /v1/confirmations/:id.
type ResolveReq struct {
	Approve *bool `json:"approve" binding:"required"`
}

// AuditRecordResp mirrors storage.AuditRecord.
type AuditRecordResp struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Tool      string    `json:"tool"`
	Subject   string    `json:"subject"`
	Decision  string    `json:"decision"`
	Rule      *string   `json:"rule"`
	Reason    *string   `json:"reason"`
	Stage     string    `json:"stage"`
	LatencyMs float32   `json:"latency_ms"`
}

// AuditListResp is the body of GET /v1/audit.
type AuditListResp struct {
	Records  []AuditRecordResp `json:"records"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
