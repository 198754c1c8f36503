package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/triage-ai/agentgate/internal/api"
	"github.com/triage-ai/agentgate/internal/auth"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gRPC and HTTP APIs",
		Long: `Serve agentgate.v1.AgentGate over gRPC and the JSON API over HTTP.

Tool calls that need confirmation are queued; list them with
GET /v1/confirmations and answer with POST /v1/confirmations/:id or the
ResolveConfirmation RPC.

API keys start with agk_. With POSTGRES_DSN set they are checked against the
api_keys table; otherwise against AGENTGATE_API_KEY_HASH.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	cmd.Flags().String("grpc-port", "50061", "gRPC listen port")
	cmd.Flags().String("http-port", "8080", "HTTP listen port")
	_ = a.v.BindPFlag("grpc_port", cmd.Flags().Lookup("grpc-port"))
	_ = a.v.BindPFlag("http_port", cmd.Flags().Lookup("http-port"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	logger.Info("starting agentgate server",
		zap.String("grpc_port", a.cfg.GRPCPort),
		zap.String("http_port", a.cfg.HTTPPort),
		zap.Int("max_parallel", a.cfg.MaxParallel),
		zap.Duration("subagent_timeout", a.cfg.SubagentTimeout()),
	)

	db, err := a.openPostgres(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	queue := gate.NewQueueConfirmer(a.cfg.ConfirmTimeout())
	rt, err := a.newRuntime(ctx, db, queue)
	if err != nil {
		return err
	}
	defer rt.Close()

	authenticator := a.newAuthenticator(db)

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
		grpc.ChainUnaryInterceptor(server.UnaryAuthInterceptor(authenticator, logger)),
	)
	server.RegisterAgentGateServer(grpcServer,
		server.NewAgentGateService(rt.registry, rt.gate, rt.orch, queue, logger))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for debugging with grpcurl
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		return err
	}

	// HTTP server
	if a.cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr: ":" + a.cfg.HTTPPort,
		Handler: api.NewRouter(&api.Dependencies{
			Registry:      rt.registry,
			Gate:          rt.gate,
			Runner:        rt.orch,
			Confirmations: queue,
			Audit:         rt.reader,
			Auth:          authenticator,
			Logger:        logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// newAuthenticator picks Postgres-backed keys when a database is available,
// otherwise the static configured hash.
func (a *app) newAuthenticator(db *sql.DB) auth.Authenticator {
	if db != nil {
		a.logger.Info("using postgres authenticator")
		return auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: a.cfg.AuthCacheTTL(),
			Logger:   a.logger,
		})
	}
	if a.cfg.APIKeyHash == "" {
		a.logger.Warn("no POSTGRES_DSN or AGENTGATE_API_KEY_HASH set; accepting any agk_ key")
	} else {
		a.logger.Info("using static authenticator")
	}
	return auth.NewStaticAuthenticator(a.cfg.APIKeyHash)
}
