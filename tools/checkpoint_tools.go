package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/checkpoint"
)

type checkpointReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Service) registerCheckpointTools(srv *mcp.Server) {
	register(s, srv, &mcp.Tool{
		Name:        "checkpoint_create",
		Description: "Snapshot the whole level under a name. Reusing a name replaces the old snapshot.",
		InputSchema: inputSchema(map[string]any{
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		}, []string{"name"}),
	}, s.checkpointCreate)

	register(s, srv, &mcp.Tool{
		Name:        "checkpoint_restore",
		Description: "Restore the level from a named snapshot. This is not an undo step; see the result for what happened to the undo history.",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string"},
		}, []string{"name"}),
	}, s.checkpointRestore)

	register(s, srv, &mcp.Tool{
		Name:        "checkpoint_list",
		Description: "List saved checkpoints, oldest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.checkpointList)
}

func (s *Service) checkpointCreate(ctx context.Context, r *checkpointReq) (any, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cp, err := s.checkpoints.Create(ctx, r.Name, r.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":        cp.Name,
		"description": cp.Description,
		"timestamp":   cp.Timestamp,
		"ledgerIndex": cp.LedgerIndex,
	}, nil
}

func (s *Service) checkpointRestore(ctx context.Context, r *checkpointReq) (any, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cp, err := s.checkpoints.Restore(ctx, r.Name)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Restored checkpoint %s.", cp.Name)
	switch s.checkpoints.Policy() {
	case checkpoint.ClearLedger:
		msg += " Undo history was cleared."
	case checkpoint.KeepLedger:
		msg += " Undo history was kept; undoing operations recorded after this checkpoint may fail."
	}
	return map[string]any{
		"name":    cp.Name,
		"policy":  s.checkpoints.Policy().String(),
		"history": s.ledger.Status(),
		"message": msg,
	}, nil
}

func (s *Service) checkpointList(_ context.Context, _ *emptyReq) (any, error) {
	list := s.checkpoints.List()
	out := make([]map[string]any, 0, len(list))
	for _, cp := range list {
		out = append(out, map[string]any{
			"name":        cp.Name,
			"description": cp.Description,
			"timestamp":   cp.Timestamp,
			"ledgerIndex": cp.LedgerIndex,
		})
	}
	return map[string]any{"checkpoints": out}, nil
}
