// Command uemcp bridges MCP clients to an editor listener: it serves the
// editor tools over MCP and offers one-shot and interactive access to the
// same command bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/uemcp/config"
)

const version = "0.4.0"

var (
	configPath string
	logLevel   string
	executor   string
)

func main() {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}

	root := &cobra.Command{
		Use:           "uemcp",
		Short:         "MCP bridge to an editor listener",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "uemcp.yaml", "YAML config file (optional)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&executor, "executor", "", "Editor route: remote, mock or noop")

	root.AddCommand(serveCmd())
	root.AddCommand(execCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(restartCmd())
	root.AddCommand(shellCmd())
	root.AddCommand(routesCmd())
	root.AddCommand(auditCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies the
// persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if executor != "" {
		cfg.Executor = executor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes JSON to stderr. Stdout belongs to the stdio transport.
func newLogger(cfg *config.Config) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
