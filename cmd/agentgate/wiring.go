package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/orchestrator"
	"github.com/triage-ai/agentgate/internal/storage"
	"github.com/triage-ai/agentgate/internal/tools"
)

// errNoExecutor is reported for every invocation when no bridge is configured.
var errNoExecutor = errors.New("no executor configured (set AGENTGATE_EXECUTOR or executor in agentgate.yaml)")

// runtime is the assembled object graph shared by run and serve.
type runtime struct {
	registry   *agents.Registry
	gate       *gate.Gate
	dispatcher *tools.Dispatcher
	orch       *orchestrator.Orchestrator
	// reader is the best queryable audit store available.
	reader  storage.AuditReader
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openPostgres returns nil when no DSN is configured.
func (a *app) openPostgres(ctx context.Context) (*sql.DB, error) {
	if a.cfg.PostgresDSN == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", a.cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("openPostgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("openPostgres: %w", err)
	}
	a.logger.Info("postgres connected")
	return db, nil
}

// loadRegistry loads built-in personas, then agent directories, then the
// agent_definitions table when db is non-nil.
func (a *app) loadRegistry(ctx context.Context, db *sql.DB) (*agents.Registry, error) {
	sources := []agents.Source{agents.EmbeddedSource()}
	for _, dir := range a.cfg.AgentDirs {
		sources = append(sources, agents.DirSource(expandHome(dir)))
	}
	if db != nil {
		sources = append(sources, agents.NewPostgresSource(db))
	}
	reg, err := agents.Load(ctx, a.logger, sources...)
	if err != nil {
		return nil, fmt.Errorf("loadRegistry: %w", err)
	}
	return reg, nil
}

// openRegistry loads the registry on its own, for commands that only read
// definitions. The returned func releases everything it opened.
func (a *app) openRegistry(ctx context.Context) (*agents.Registry, func(), error) {
	db, err := a.openPostgres(ctx)
	if err != nil {
		return nil, nil, err
	}
	reg, err := a.loadRegistry(ctx, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, err
	}
	return reg, func() {
		reg.Close()
		if db != nil {
			_ = db.Close()
		}
	}, nil
}

// openAudit assembles the audit writers. Records always reach an in-memory
// ring; SQLite and ClickHouse are added when configured. A ClickHouse
// connection failure falls back to the log writer.
func (a *app) openAudit(rt *runtime) storage.AuditWriter {
	mem := storage.NewMemoryStore(1000)
	writers := storage.MultiWriter{mem}
	rt.reader = mem

	if a.cfg.AuditDB != "" {
		path := expandHome(a.cfg.AuditDB)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			a.logger.Warn("cannot create audit directory", zap.String("path", path), zap.Error(err))
		} else if store, err := storage.OpenSQLite(path, a.logger); err != nil {
			a.logger.Warn("sqlite audit log unavailable", zap.String("path", path), zap.Error(err))
		} else {
			writers = append(writers, store)
			rt.reader = store
			a.logger.Debug("sqlite audit log opened", zap.String("path", path))
		}
	}

	if a.cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(a.cfg.ClickHouseDSN, a.logger)
		if err != nil {
			a.logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writers = append(writers, storage.NewLogWriter(a.logger))
		} else {
			writers = append(writers, chWriter)
			if chReader, err := storage.NewClickHouseReader(a.cfg.ClickHouseDSN); err == nil {
				rt.reader = chReader
				rt.closers = append(rt.closers, func() { _ = chReader.Close() })
			}
			a.logger.Info("clickhouse writer connected")
		}
	}

	rt.closers = append(rt.closers, writers.Close)
	return writers
}

// newRuntime builds registry, gate, dispatcher and orchestrator. The caller
// must Close the runtime.
func (a *app) newRuntime(ctx context.Context, db *sql.DB, confirmer gate.Confirmer) (*runtime, error) {
	rt := &runtime{}

	reg, err := a.loadRegistry(ctx, db)
	if err != nil {
		return nil, err
	}
	rt.registry = reg
	rt.closers = append(rt.closers, reg.Close)

	g, err := gate.New(gate.Options{
		Workspace: a.cfg.Workspace,
		ToolRate:  a.cfg.ToolRate,
		ToolBurst: a.cfg.ToolBurst,
		Audit:     a.openAudit(rt),
		Logger:    a.logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.gate = g
	rt.dispatcher = tools.NewDispatcher(g, confirmer, a.logger)

	var exec orchestrator.Executor
	if a.cfg.Executor != "" {
		pe, err := orchestrator.NewProcessExecutor(a.cfg.Executor, a.logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		pe.Dir = g.Workspace()
		exec = pe
	} else {
		a.logger.Warn("no executor configured; runs will fail every invocation")
		exec = orchestrator.ExecutorFunc(func(context.Context, *orchestrator.Invocation, tools.Runner) (*orchestrator.Output, error) {
			return nil, errNoExecutor
		})
	}

	rt.orch = orchestrator.New(reg, rt.dispatcher, exec, orchestrator.Config{
		DefaultTimeout: a.cfg.SubagentTimeout(),
		MaxParallel:    a.cfg.MaxParallel,
		Merge:          findings.MergeConfig{KeywordOverlap: a.cfg.KeywordOverlap},
	}, a.logger)
	return rt, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
