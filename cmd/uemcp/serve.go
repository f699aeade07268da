package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/observability"
	"github.com/hazyhaar/uemcp/shield"
)

func serveCmd() *cobra.Command {
	var transport, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor tools over MCP",
		Long: `Serve the editor tools over MCP.

With --transport stdio (the default) the MCP client launches uemcp and
talks over stdin/stdout. With --transport http the streamable HTTP
endpoint is mounted at /mcp, next to /healthz, /status and /routes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.MCPTransport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.router.Watch(ctx, a.db, 2*time.Second)

			if err := observability.Cleanup(ctx, a.db, observability.RetentionConfig{
				AuditDays: cfg.AuditRetention,
				EventDays: cfg.AuditRetention,
			}); err != nil {
				logger.Warn("audit retention cleanup", "error", err)
			}

			mon := editorbridge.NewMonitor(a.bridge,
				editorbridge.WithInterval(cfg.MonitorInterval),
				editorbridge.OnChange(a.events.Availability(a.endpoint())),
				editorbridge.WithMonitorLogger(logger),
			)
			mon.Start(ctx)
			defer mon.Stop()

			srv, _, err := a.mcpServer()
			if err != nil {
				return err
			}

			logger.Info("uemcp starting",
				"version", version,
				"transport", cfg.MCPTransport,
				"executor", cfg.Executor,
				"endpoint", a.endpoint(),
			)
			if cfg.MCPTransport == "http" {
				return serveHTTP(ctx, a, srv, mon)
			}
			err = srv.Run(ctx, &mcp.StdioTransport{})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":8766", "Listen address for --transport http")
	return cmd
}

func serveHTTP(ctx context.Context, a *app, srv *mcp.Server, mon *editorbridge.Monitor) error {
	hs := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpHandler(a, srv, mon),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("MCP HTTP listening", "addr", a.cfg.HTTPAddr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// httpHandler mounts the streamable MCP endpoint next to health and
// listener status.
func httpHandler(a *app, srv *mcp.Server, mon *editorbridge.Monitor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(a.logger) {
		r.Use(mw)
	}

	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := a.bridge.Status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"online":   false,
				"endpoint": a.endpoint(),
				"error":    err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"online":   true,
			"monitor":  mon.Online(),
			"endpoint": a.endpoint(),
			"listener": st,
		})
	})

	r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"services": liveServices(a)})
	})

	return r
}

// liveServices is the router's current view, sorted by name.
func liveServices(a *app) []connectivity.ServiceInfo {
	services := slices.Collect(a.router.ListServices())
	slices.SortFunc(services, func(x, y connectivity.ServiceInfo) int { return strings.Compare(x.Name, y.Name) })
	return services
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
