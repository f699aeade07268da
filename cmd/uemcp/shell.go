package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/uemcp/editorbridge"
)

const shellHelp = `Commands:
  <type> [params-json]     send a raw command, e.g. actor.spawn {"assetPath":"/Game/A"}
  tool <name> [args-json]  call an MCP tool (recorded in history when reversible)
  tools                    list MCP tools
  undo [n] | redo [n]      walk the operation history
  history [limit]          show the operation history
  status                   listener status
  routes                   services known to the router
  help | quit`

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session against the editor",
		Long: `Interactive session against the editor.

Raw commands go straight to the listener. Tool calls go through the same
MCP tools "uemcp serve" exposes, so undo and redo work on them. Listener
availability changes are printed as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				srv, _, err := a.mcpServer()
				if err != nil {
					return err
				}
				session, err := connectInMemory(ctx, srv)
				if err != nil {
					return err
				}
				defer session.Close()

				sh := newShell(a, session, cmd.OutOrStdout())
				availability := a.events.Availability(a.endpoint())
				mon := editorbridge.NewMonitor(a.bridge,
					editorbridge.WithInterval(a.cfg.MonitorInterval),
					editorbridge.OnChange(func(online bool) {
						availability(online)
						sh.notify(online)
					}),
					editorbridge.WithMonitorLogger(a.logger),
				)
				mon.Start(ctx)
				defer mon.Stop()

				return sh.run(ctx, cmd.InOrStdin())
			})
		},
	}
}

// connectInMemory attaches a client session to srv without any I/O.
func connectInMemory(ctx context.Context, srv *mcp.Server) (*mcp.ClientSession, error) {
	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()
	client := mcp.NewClient(&mcp.Implementation{Name: "uemcp-shell", Version: version}, nil)
	return client.Connect(ctx, clientT, nil)
}

type shell struct {
	app     *app
	bridge  *editorbridge.Bridge
	session *mcp.ClientSession

	mu  sync.Mutex
	out io.Writer
}

func newShell(a *app, session *mcp.ClientSession, out io.Writer) *shell {
	if out == nil {
		out = os.Stdout
	}
	return &shell{app: a, bridge: a.bridge, session: session, out: out}
}

func (s *shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) notify(online bool) {
	if online {
		s.printf("\n[listener online]\n")
		return
	}
	s.printf("\n[listener offline]\n")
}

// run reads lines until EOF, quit or ctx is done. Reading happens on its
// own goroutine so a cancelled context ends the loop without new input.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.printf("uemcp shell (%s). Type help for commands.\n", version)
	for {
		s.printf("uemcp> ")
		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				s.printf("\n")
				return nil
			}
			if s.handle(ctx, line) {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the shell should exit.
func (s *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch word {
	case "quit", "exit":
		return true
	case "help":
		s.printf("%s\n", shellHelp)
	case "status":
		st, err := s.bridge.Status(ctx)
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		s.printJSON(st)
	case "routes":
		for _, svc := range liveServices(s.app) {
			s.printf("  %-16s %-6s %s\n", svc.Name, svc.Strategy, svc.Endpoint)
		}
	case "tools":
		res, err := s.session.ListTools(ctx, nil)
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		for _, tool := range res.Tools {
			s.printf("  %-20s %s\n", tool.Name, tool.Description)
		}
	case "undo", "redo":
		n, err := countArg(rest)
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		s.callTool(ctx, word, map[string]any{"count": n})
	case "history":
		args := map[string]any{}
		if rest != "" {
			n, err := countArg(rest)
			if err != nil {
				s.printf("error: %v\n", err)
				return false
			}
			args["limit"] = n
		}
		s.callTool(ctx, "history_list", args)
	case "tool":
		name, raw, _ := strings.Cut(rest, " ")
		if name == "" {
			s.printf("usage: tool <name> [args-json]\n")
			return false
		}
		args, err := parseParams([]string{strings.TrimSpace(raw)})
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		s.callTool(ctx, name, args)
	default:
		params, err := parseParams([]string{rest})
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		resp, err := s.bridge.ExecuteCommand(ctx, editorbridge.NewCommand(word, params))
		if err != nil {
			s.printf("error: %v\n", err)
			return false
		}
		s.printJSON(resp)
	}
	return false
}

func (s *shell) callTool(ctx context.Context, name string, args map[string]any) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		s.printf("error: %v\n", err)
		return
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	if res.IsError {
		s.printf("error: %s\n", sb.String())
		return
	}
	text := sb.String()
	var v any
	if json.Unmarshal([]byte(text), &v) == nil {
		s.printJSON(v)
		return
	}
	s.printf("%s\n", text)
}

func (s *shell) printJSON(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := printJSON(s.out, v); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func countArg(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("count must be a positive integer, got %q", s)
	}
	return n, nil
}
