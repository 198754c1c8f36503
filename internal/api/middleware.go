package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/auth"
)

const principalKey = "principal"

// authMiddleware validates Bearer agk_ tokens and stores the principal on
// the gin context and the request context.
func (d *Dependencies) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := d.Auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, auth.ErrAuthUnavailable) {
				d.Logger.Error("auth backend unavailable", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResp{Detail: "Authentication backend unavailable"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResp{Detail: "Missing or invalid API key"})
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// requireOperator rejects principals that may not resolve confirmations.
func (d *Dependencies) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := auth.PrincipalFrom(c.Request.Context())
		if !ok || !p.Operator {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResp{Detail: "Operator key required"})
			return
		}
		c.Next()
	}
}

func requestLogging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
