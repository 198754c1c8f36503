package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/orchestrator"
	"github.com/triage-ai/agentgate/internal/storage"
)

func (d *Dependencies) handleListAgents(c *gin.Context) {
	defs := d.Registry.List()
	if mode := c.Query("mode"); mode != "" {
		defs = lo.Filter(defs, func(def *agents.Definition, _ int) bool { return string(def.Mode) == mode })
	}
	resp := AgentListResp{Agents: lo.Map(defs, func(def *agents.Definition, _ int) AgentSummaryResp {
		return AgentSummaryResp{
			Name:        def.Name,
			Description: def.Description,
			Mode:        def.Mode,
			Source:      def.Source,
		}
	})}
	c.JSON(http.StatusOK, resp)
}

func (d *Dependencies) handleGetAgent(c *gin.Context) {
	def, err := d.Registry.Lookup(c.Param("name"))
	if err != nil {
		writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentResp{Definition: def, Prompt: def.Prompt})
}

// handleRun implements POST /v1/runs. The run executes synchronously; tool
// calls that need confirmation park in the queue until resolved through
// POST /v1/confirmations/:id.
func (d *Dependencies) handleRun(c *gin.Context) {
	var req RunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResp{Detail: "agent is required"})
		return
	}

	report, err := d.Runner.Run(c.Request.Context(), req.Agent, req.Input)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, agents.ErrUnknownAgent):
		writeLookupError(c, err)
	case errors.Is(err, orchestrator.ErrNotInvocable):
		c.JSON(http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The client is gone; nothing useful can be written.
		d.Logger.Warn("run aborted", zap.String("agent", req.Agent), zap.Error(err))
		c.Status(499)
	default:
		d.Logger.Error("run failed", zap.String("agent", req.Agent), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResp{Detail: "Run failed"})
	}
}

func (d *Dependencies) handleAuthorize(c *gin.Context) {
	var req AuthorizeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResp{Detail: "agent and tool are required"})
		return
	}
	def, err := d.Registry.Lookup(req.Agent)
	if err != nil {
		writeLookupError(c, err)
		return
	}
	if req.RunID == "" {
		req.RunID = "http"
	}

	dec := d.Gate.Authorize(c.Request.Context(), &gate.Request{
		RunID: req.RunID,
		Agent: def,
		Tool:  req.Tool,
		Args:  req.Args,
	})
	c.JSON(http.StatusOK, dec)
}

func (d *Dependencies) handleListConfirmations(c *gin.Context) {
	if d.Confirmations == nil {
		c.JSON(http.StatusOK, gin.H{"pending": []gate.Pending{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": d.Confirmations.Pending()})
}

func (d *Dependencies) handleResolveConfirmation(c *gin.Context) {
	if d.Confirmations == nil {
		c.JSON(http.StatusNotFound, ErrorResp{Detail: "Confirmation not found."})
		return
	}
	var req ResolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResp{Detail: "approve is required"})
		return
	}
	id := c.Param("id")
	if err := d.Confirmations.Resolve(id, *req.Approve); err != nil {
		if errors.Is(err, gate.ErrNoSuchConfirmation) {
			c.JSON(http.StatusNotFound, ErrorResp{Detail: "Confirmation not found."})
			return
		}
		d.Logger.Error("failed to resolve confirmation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve confirmation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": *req.Approve})
}

func (d *Dependencies) handleListAudit(c *gin.Context) {
	if d.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResp{Detail: "Audit store not configured"})
		return
	}

	params := storage.ListParams{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if v := c.Query("run_id"); v != "" {
		params.RunID = &v
	}
	if v := c.Query("agent"); v != "" {
		params.Agent = &v
	}
	if v := c.Query("decision"); v != "" {
		params.Decision = &v
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResp{Detail: "since must be an RFC 3339 timestamp"})
			return
		}
		params.Since = &t
	}

	records, total, err := d.Audit.ListRecords(c.Request.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list audit records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResp{Detail: "Failed to list audit records"})
		return
	}

	c.JSON(http.StatusOK, AuditListResp{
		Records:  lo.Map(records, func(r storage.AuditRecord, _ int) AuditRecordResp { return auditRecordToResp(r) }),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

func auditRecordToResp(r storage.AuditRecord) AuditRecordResp {
	return AuditRecordResp{
		ID:        r.ID,
		RunID:     r.RunID,
		Timestamp: r.Timestamp,
		Agent:     r.Agent,
		Tool:      r.Tool,
		Subject:   r.Subject,
		Decision:  r.Decision,
		Rule:      lo.EmptyableToPtr(r.Rule),
		Reason:    lo.EmptyableToPtr(r.Reason),
		Stage:     r.Stage,
		LatencyMs: r.LatencyMs,
	}
}

func writeLookupError(c *gin.Context, err error) {
	var lerr *agents.LookupError
	if errors.As(err, &lerr) {
		c.JSON(http.StatusNotFound, ErrorResp{Detail: lerr.Error(), Suggestions: lerr.Suggestions})
		return
	}
	c.JSON(http.StatusNotFound, ErrorResp{Detail: err.Error()})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
