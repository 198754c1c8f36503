package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/auth"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/storage"
)

// Registry lists and resolves agent definitions.
type Registry interface {
	Lookup(name string) (*agents.Definition, error)
	List() []*agents.Definition
}

// Authorizer decides tool calls without executing them.
type Authorizer interface {
	Authorize(ctx context.Context, req *gate.Request) gate.Decision
}

// Runner executes an agent run.
type Runner interface {
	Run(ctx context.Context, agentName, input string) (*findings.Report, error)
}

// Confirmations exposes parked ask decisions.
type Confirmations interface {
	Pending() []gate.Pending
	Resolve(id string, approve bool) error
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Registry      Registry
	Gate          Authorizer
	Runner        Runner
	Confirmations Confirmations       // nil when runs never park decisions
	Audit         storage.AuditReader // nil when no queryable audit store is configured
	Auth          auth.Authenticator
	Logger        *zap.Logger
}

// NewRouter builds the gin engine with all routes wired up.
func NewRouter(deps *Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogging(deps.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", deps.authMiddleware())
	{
		v1.GET("/agents", deps.handleListAgents)
		v1.GET("/agents/:name", deps.handleGetAgent)
		v1.POST("/runs", deps.handleRun)
		v1.POST("/authorize", deps.handleAuthorize)
		v1.GET("/confirmations", deps.handleListConfirmations)
		v1.POST("/confirmations/:id", deps.requireOperator(), deps.handleResolveConfirmation)
		v1.GET("/audit", deps.handleListAudit)
	}

	return router
}
