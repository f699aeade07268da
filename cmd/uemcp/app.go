package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/uemcp/checkpoint"
	"github.com/hazyhaar/uemcp/config"
	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
	"github.com/hazyhaar/uemcp/mockeditor"
	"github.com/hazyhaar/uemcp/observability"
	"github.com/hazyhaar/uemcp/tools"
)

// app holds everything a subcommand needs to talk to the editor.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *sql.DB
	router *connectivity.Router
	engine *mockeditor.Engine
	bridge *editorbridge.Bridge
	audit  *observability.AuditLogger
	events *observability.EventLogger
}

// newApp opens the database, seeds the editor routes for the configured
// executor and builds the bridge on top of the router.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := connectivity.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := observability.Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit tables: %w", err)
	}
	if err := connectivity.SeedRoutes(ctx, db, cfg.Endpoint(), cfg.Executor); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed routes: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	a.router = connectivity.New(connectivity.WithLogger(logger))
	a.router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
	if cfg.Executor == "mock" {
		a.engine = mockeditor.NewEngine(mockeditor.WithLogger(logger))
		mockeditor.RegisterConnectivity(a.router, a.engine)
	}
	if err := a.router.Reload(ctx, db); err != nil {
		a.Close()
		return nil, fmt.Errorf("load routes: %w", err)
	}

	a.audit = observability.NewAuditLogger(db, 1000, observability.WithAuditLogger(logger))
	a.events = observability.NewEventLogger(db, observability.WithEventLogger(logger))

	breaker := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(cfg.BreakerThreshold),
		connectivity.WithBreakerResetTimeout(cfg.BreakerReset),
	)
	opts := []editorbridge.Option{
		editorbridge.WithLogger(logger),
		editorbridge.WithEndpoint(a.endpoint()),
		editorbridge.WithCommandTimeout(cfg.CommandTimeout),
		editorbridge.WithProbeTimeout(cfg.ProbeTimeout),
		editorbridge.WithBackoff(editorbridge.BackoffPolicy{
			MaxRetries: cfg.MaxRetries,
			Base:       cfg.RetryBackoff,
			Max:        cfg.RetryMaxBackoff,
		}),
		editorbridge.WithBreaker(breaker),
		editorbridge.WithCallObserver(a.audit.ObserveCall),
		editorbridge.WithRestartWait(cfg.RestartWait),
		editorbridge.WithReadyTimeout(cfg.RestartReadyTimeout),
	}
	if trig := editorbridge.ParseCommandTrigger(cfg.RestartCommand); trig != nil {
		opts = append(opts, editorbridge.WithRestartTrigger(trig))
	}
	a.bridge = editorbridge.New(editorbridge.NewRouterChannel(a.router), opts...)
	return a, nil
}

func (a *app) endpoint() string {
	if a.cfg.Executor == "remote" {
		return a.cfg.Endpoint()
	}
	return a.cfg.Executor
}

// mcpServer builds the MCP server with a fresh history and checkpoint set.
func (a *app) mcpServer() (*mcp.Server, *tools.Service, error) {
	policy, err := checkpoint.ParsePolicy(a.cfg.CheckpointPolicy)
	if err != nil {
		return nil, nil, err
	}
	ledger := history.NewLedger(
		history.WithMaxEntries(a.cfg.HistoryMax),
		history.WithLogger(a.logger),
	)
	cps := checkpoint.New(a.bridge, ledger,
		checkpoint.WithPolicy(policy),
		checkpoint.WithLogger(a.logger),
	)
	svc := tools.New(a.bridge, ledger, cps, tools.WithLogger(a.logger))

	srv := mcp.NewServer(&mcp.Implementation{Name: "uemcp", Version: version}, nil)
	svc.RegisterMCP(srv)
	return srv, svc, nil
}

// Close flushes the audit log and releases the router and database.
func (a *app) Close() error {
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.router != nil {
		errs = append(errs, a.router.Close())
	}
	if a.engine != nil {
		a.engine.Close()
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// withApp loads config, builds the app, runs fn and tears everything down.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
