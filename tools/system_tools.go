package tools

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/editorbridge"
)

type restartReq struct {
	Force bool `json:"force"`
}

func (s *Service) registerSystemTools(srv *mcp.Server) {
	register(s, srv, &mcp.Tool{
		Name:        "test_connection",
		Description: "Check that the editor listener is reachable and report its status.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.testConnection)

	register(s, srv, &mcp.Tool{
		Name:        "restart_listener",
		Description: "Restart the editor listener in two phases: stop it, then bring it back out of band.",
		InputSchema: inputSchema(map[string]any{
			"force": map[string]any{"type": "boolean", "description": "Stop even if a command is running"},
		}, nil),
	}, s.restartListener)
}

func (s *Service) testConnection(ctx context.Context, _ *emptyReq) (any, error) {
	st, err := s.bridge.Status(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"connected": true,
		"listener":  st,
	}, nil
}

func (s *Service) restartListener(ctx context.Context, r *restartReq) (any, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.bridge.Restart(ctx, r.Force)
	if err != nil {
		return nil, err
	}
	err = h.Complete(ctx)
	switch {
	case errors.Is(err, editorbridge.ErrNoRestartTrigger):
		return map[string]any{
			"state":   h.State().String(),
			"message": "Listener stopped. " + err.Error(),
		}, nil
	case err != nil:
		return nil, err
	}
	return map[string]any{
		"state":   h.State().String(),
		"message": "Listener restarted and ready.",
	}, nil
}
