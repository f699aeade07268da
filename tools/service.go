// Package tools exposes the editor as MCP tools. Reversible tools capture
// what they need to undo themselves before mutating, and record an
// operation only after the editor confirmed success. undo, redo and the
// checkpoint tools drive the history and checkpoint managers.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/checkpoint"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
	"github.com/hazyhaar/uemcp/idgen"
	"github.com/hazyhaar/uemcp/kit"
)

// Service holds the collaborators shared by every tool.
type Service struct {
	bridge      *editorbridge.Bridge
	ledger      *history.Ledger
	checkpoints *checkpoint.Manager
	logger      *slog.Logger
	newReqID    idgen.Generator

	// opMu serialises mutate-then-record sequences with undo, redo and
	// restore, so the ledger never sees interleaved cursor moves.
	opMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithRequestIDs sets the generator for per-call request IDs.
func WithRequestIDs(g idgen.Generator) Option { return func(s *Service) { s.newReqID = g } }

// New creates the tool service.
func New(bridge *editorbridge.Bridge, ledger *history.Ledger, checkpoints *checkpoint.Manager, opts ...Option) *Service {
	s := &Service{
		bridge:      bridge,
		ledger:      ledger,
		checkpoints: checkpoints,
		logger:      slog.Default(),
		newReqID:    idgen.Prefixed("req_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterMCP registers every tool on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerActorTools(srv)
	s.registerLevelTools(srv)
	s.registerHistoryTools(srv)
	s.registerCheckpointTools(srv)
	s.registerSystemTools(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	vectorSchema = map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "number"},
		"minItems": 3,
		"maxItems": 3,
	}
	countSchema = map[string]any{"type": "integer", "minimum": 1, "description": "Number of steps (default 1)"}
)

// register wires a typed handler as an MCP tool. Missing arguments decode
// to the zero request.
func register[T any](s *Service, srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, req *T) (any, error)) {
	endpoint := kit.Chain(s.requestID(), kit.Logging(s.logger))(func(ctx context.Context, req any) (any, error) {
		return fn(ctx, req.(*T))
	})

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r T
		if args := req.Params.Arguments; len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// requestID tags each call so bridge traces and audit rows can be joined.
func (s *Service) requestID() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if kit.GetRequestID(ctx) == "" {
				ctx = kit.WithRequestID(ctx, s.newReqID())
			}
			return next(ctx, req)
		}
	}
}

// run executes cmd and turns a success:false envelope into an error.
func (s *Service) run(ctx context.Context, cmd editorbridge.Command) (*editorbridge.Response, error) {
	resp, err := s.bridge.ExecuteCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// record pushes a successful operation onto the ledger.
func (s *Service) record(ctx context.Context, tool, description string, undo history.UndoData, redo editorbridge.Command) history.OperationRecord {
	rec := s.ledger.Record(history.OperationRecord{
		ToolName:    tool,
		Description: description,
		UndoData:    undo,
		Redo:        redo,
	})
	s.logger.DebugContext(ctx, "operation recorded", "id", rec.ID, "tool", tool, "undoable", rec.Undoable())
	return rec
}

// fields copies the envelope's result fields into a map for the tool result.
func fields(resp *editorbridge.Response) map[string]any {
	out := make(map[string]any, len(resp.Fields)+1)
	for k, v := range resp.Fields {
		out[k] = v
	}
	return out
}
