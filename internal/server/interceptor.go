package server

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/triage-ai/agentgate/internal/auth"
)

// UnaryAuthInterceptor authenticates every AgentGate call and stores the
// principal in the handler context. Other services (health, reflection)
// pass through.
func UnaryAuthInterceptor(a auth.Authenticator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}

		token, err := auth.ExtractBearerToken(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
		p, err := a.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrAuthUnavailable) {
				return nil, status.Error(codes.Unavailable, "authentication backend unavailable")
			}
			logger.Debug("rejected credentials",
				zap.String("method", info.FullMethod),
				zap.Error(err),
			)
			return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}
