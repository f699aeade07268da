package tools

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
)

func (s *Service) registerLevelTools(srv *mcp.Server) {
	register(s, srv, &mcp.Tool{
		Name:        "level_save",
		Description: "Save the current level to disk. Cannot be undone; undo stops at this step.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, s.saveLevel)

	register(s, srv, &mcp.Tool{
		Name:        "python_proxy",
		Description: "Run Python inside the editor. Arbitrary changes cannot be undone; undo stops at this step.",
		InputSchema: inputSchema(map[string]any{
			"code": map[string]any{"type": "string", "description": "Python source to execute"},
		}, []string{"code"}),
	}, s.pythonProxy)
}

type emptyReq struct{}

func (s *Service) saveLevel(ctx context.Context, _ *emptyReq) (any, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cmd := editorbridge.NewCommand(editorbridge.CmdLevelSave, nil)
	resp, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	level, _ := resp.String("levelName")
	rec := s.record(ctx, "level_save", "Saved level "+level, history.LevelSave{LevelName: level}, cmd)
	out := fields(resp)
	out["operationId"] = rec.ID
	return out, nil
}

type pythonReq struct {
	Code string `json:"code"`
}

func (s *Service) pythonProxy(ctx context.Context, r *pythonReq) (any, error) {
	if r.Code == "" {
		return nil, errors.New("code is required")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cmd := editorbridge.NewCommand(editorbridge.CmdPythonExecute, map[string]any{"code": r.Code})
	resp, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	rec := s.record(ctx, "python_proxy", "Executed Python", nil, cmd)
	out := fields(resp)
	out["operationId"] = rec.ID
	return out, nil
}

type countReq struct {
	Count int `json:"count"`
}

type listReq struct {
	Limit int `json:"limit"`
}

func (s *Service) registerHistoryTools(srv *mcp.Server) {
	register(s, srv, &mcp.Tool{
		Name:        "undo",
		Description: "Undo the last operations, newest first. Stops at the first step that cannot be undone and reports each step.",
		InputSchema: inputSchema(map[string]any{"count": countSchema}, nil),
	}, s.undo)

	register(s, srv, &mcp.Tool{
		Name:        "redo",
		Description: "Redo undone operations, oldest first, by re-running their original commands.",
		InputSchema: inputSchema(map[string]any{"count": countSchema}, nil),
	}, s.redo)

	register(s, srv, &mcp.Tool{
		Name:        "history_list",
		Description: "List recorded operations with the undo/redo position.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1, "description": "Newest entries to show (default all)"},
		}, nil),
	}, s.historyList)
}

func (s *Service) undo(ctx context.Context, r *countReq) (any, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return history.Undo(ctx, s.ledger, s.bridge, r.Count).Summary(), nil
}

func (s *Service) redo(ctx context.Context, r *countReq) (any, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return history.Redo(ctx, s.ledger, s.bridge, r.Count).Summary(), nil
}

type historyEntry struct {
	Index       int       `json:"index"`
	ID          string    `json:"id"`
	ToolName    string    `json:"toolName"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"undoKind,omitempty"`
	Undoable    bool      `json:"undoable"`
	Done        bool      `json:"done"`
}

type historyList struct {
	Status     history.Status `json:"status"`
	Operations []historyEntry `json:"operations"`
}

func (s *Service) historyList(_ context.Context, r *listReq) (any, error) {
	entries := s.ledger.Entries()
	st := s.ledger.Status()

	out := historyList{Status: st, Operations: []historyEntry{}}
	start := 0
	if r.Limit > 0 && len(entries) > r.Limit {
		start = len(entries) - r.Limit
	}
	for i := start; i < len(entries); i++ {
		e := entries[i]
		he := historyEntry{
			Index:       i,
			ID:          e.ID,
			ToolName:    e.ToolName,
			Description: e.Description,
			Timestamp:   e.Timestamp,
			Undoable:    e.Undoable(),
			Done:        i <= st.CurrentIndex,
		}
		if e.UndoData != nil {
			he.Kind = string(e.UndoData.Kind())
		}
		out.Operations = append(out.Operations, he)
	}
	return out, nil
}
