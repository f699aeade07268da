package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
)

// actorState is the actor object returned by actor.state.
type actorState struct {
	Name      string          `json:"name"`
	AssetPath string          `json:"assetPath"`
	Location  history.Vector  `json:"location"`
	Rotation  history.Rotator `json:"rotation"`
	Scale     history.Vector  `json:"scale"`
	Folder    string          `json:"folder"`
	Mesh      string          `json:"mesh"`
	Materials []string        `json:"materials"`
}

func (s *Service) actorState(ctx context.Context, name string) (*actorState, error) {
	resp, err := s.run(ctx, editorbridge.NewCommand(editorbridge.CmdActorState, map[string]any{"actorName": name}))
	if err != nil {
		return nil, fmt.Errorf("read state of %s: %w", name, err)
	}
	var st actorState
	if !resp.Decode("actor", &st) {
		return nil, fmt.Errorf("read state of %s: %w: no actor object", name, editorbridge.ErrMalformedResponse)
	}
	if st.Name == "" {
		st.Name = name
	}
	return &st, nil
}

func (s *Service) registerActorTools(srv *mcp.Server) {
	s.registerSpawn(srv)
	s.registerDelete(srv)
	s.registerModify(srv)
	s.registerMaterial(srv)
}

// --- actor_spawn ---

type spawnReq struct {
	AssetPath string           `json:"assetPath"`
	Name      string           `json:"name"`
	Location  *history.Vector  `json:"location"`
	Rotation  *history.Rotator `json:"rotation"`
	Scale     *history.Vector  `json:"scale"`
	Folder    string           `json:"folder"`
}

func (s *Service) registerSpawn(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "actor_spawn",
		Description: "Spawn an actor from an asset. Undoable.",
		InputSchema: inputSchema(map[string]any{
			"assetPath": map[string]any{"type": "string", "description": "Asset to spawn, e.g. /Engine/BasicShapes/Cube"},
			"name":      map[string]any{"type": "string", "description": "Actor name (generated when omitted)"},
			"location":  vectorSchema,
			"rotation":  vectorSchema,
			"scale":     vectorSchema,
			"folder":    map[string]any{"type": "string", "description": "World outliner folder"},
		}, []string{"assetPath"}),
	}
	register(s, srv, tool, s.spawn)
}

func (s *Service) spawn(ctx context.Context, r *spawnReq) (any, error) {
	if r.AssetPath == "" {
		return nil, errors.New("assetPath is required")
	}
	params := map[string]any{"assetPath": r.AssetPath}
	if r.Name != "" {
		params["name"] = r.Name
	}
	if r.Location != nil {
		params["location"] = r.Location[:]
	}
	if r.Rotation != nil {
		params["rotation"] = r.Rotation[:]
	}
	if r.Scale != nil {
		params["scale"] = r.Scale[:]
	}
	if r.Folder != "" {
		params["folder"] = r.Folder
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	resp, err := s.run(ctx, editorbridge.NewCommand(editorbridge.CmdActorSpawn, params))
	if err != nil {
		return nil, err
	}
	name, _ := resp.String("actorName")
	if name == "" {
		name = r.Name
	}
	if name == "" {
		return nil, fmt.Errorf("spawn of %s: %w: no actorName", r.AssetPath, editorbridge.ErrMalformedResponse)
	}
	// Redo must recreate the same actor, so pin the resolved name.
	params["name"] = name
	rec := s.record(ctx, "actor_spawn", fmt.Sprintf("Spawned %s from %s", name, r.AssetPath),
		history.ActorSpawn{ActorName: name},
		editorbridge.NewCommand(editorbridge.CmdActorSpawn, params))

	out := fields(resp)
	out["actorName"] = name
	out["operationId"] = rec.ID
	return out, nil
}

// --- actor_delete ---

type deleteReq struct {
	ActorName string `json:"actorName"`
}

func (s *Service) registerDelete(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "actor_delete",
		Description: "Delete an actor. Undo respawns it with its captured asset, transform and folder.",
		InputSchema: inputSchema(map[string]any{
			"actorName": map[string]any{"type": "string"},
		}, []string{"actorName"}),
	}
	register(s, srv, tool, s.delete)
}

func (s *Service) delete(ctx context.Context, r *deleteReq) (any, error) {
	if r.ActorName == "" {
		return nil, errors.New("actorName is required")
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := s.actorState(ctx, r.ActorName)
	if err != nil {
		return nil, err
	}
	cmd := editorbridge.NewCommand(editorbridge.CmdActorDelete, map[string]any{"actorName": r.ActorName})
	resp, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	rec := s.record(ctx, "actor_delete", "Deleted "+r.ActorName, history.ActorDelete{
		ActorName: r.ActorName,
		AssetPath: st.AssetPath,
		Location:  st.Location,
		Rotation:  st.Rotation,
		Scale:     st.Scale,
		Folder:    st.Folder,
	}, cmd)

	out := fields(resp)
	out["operationId"] = rec.ID
	return out, nil
}

// --- actor_modify ---

type modifyReq struct {
	ActorName string           `json:"actorName"`
	Location  *history.Vector  `json:"location"`
	Rotation  *history.Rotator `json:"rotation"`
	Scale     *history.Vector  `json:"scale"`
	Folder    *string          `json:"folder"`
	Mesh      *string          `json:"mesh"`
}

func (s *Service) registerModify(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "actor_modify",
		Description: "Change an actor's transform, folder or mesh. Only the given fields change; undo restores exactly those.",
		InputSchema: inputSchema(map[string]any{
			"actorName": map[string]any{"type": "string"},
			"location":  vectorSchema,
			"rotation":  vectorSchema,
			"scale":     vectorSchema,
			"folder":    map[string]any{"type": "string"},
			"mesh":      map[string]any{"type": "string", "description": "Static mesh asset path"},
		}, []string{"actorName"}),
	}
	register(s, srv, tool, s.modify)
}

func (s *Service) modify(ctx context.Context, r *modifyReq) (any, error) {
	if r.ActorName == "" {
		return nil, errors.New("actorName is required")
	}
	if r.Location == nil && r.Rotation == nil && r.Scale == nil && r.Folder == nil && r.Mesh == nil {
		return nil, errors.New("nothing to modify: give at least one of location, rotation, scale, folder, mesh")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := s.actorState(ctx, r.ActorName)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"actorName": r.ActorName}
	undo := history.ActorModify{ActorName: r.ActorName}
	if r.Location != nil {
		params["location"] = r.Location[:]
		prev := st.Location
		undo.PreviousLocation = &prev
	}
	if r.Rotation != nil {
		params["rotation"] = r.Rotation[:]
		prev := st.Rotation
		undo.PreviousRotation = &prev
	}
	if r.Scale != nil {
		params["scale"] = r.Scale[:]
		prev := st.Scale
		undo.PreviousScale = &prev
	}
	if r.Folder != nil {
		params["folder"] = *r.Folder
		prev := st.Folder
		undo.PreviousFolder = &prev
	}
	if r.Mesh != nil {
		params["mesh"] = *r.Mesh
		prev := st.Mesh
		undo.PreviousMesh = &prev
	}

	cmd := editorbridge.NewCommand(editorbridge.CmdActorModify, params)
	resp, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	rec := s.record(ctx, "actor_modify", "Modified "+r.ActorName, undo, cmd)

	out := fields(resp)
	out["operationId"] = rec.ID
	return out, nil
}

// --- material_apply ---

type materialReq struct {
	ActorName    string `json:"actorName"`
	MaterialPath string `json:"materialPath"`
	SlotIndex    int    `json:"slotIndex"`
}

func (s *Service) registerMaterial(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "material_apply",
		Description: "Apply a material to an actor's material slot. Undoable when the slot had a material before.",
		InputSchema: inputSchema(map[string]any{
			"actorName":    map[string]any{"type": "string"},
			"materialPath": map[string]any{"type": "string"},
			"slotIndex":    map[string]any{"type": "integer", "minimum": 0},
		}, []string{"actorName", "materialPath"}),
	}
	register(s, srv, tool, s.applyMaterial)
}

func (s *Service) applyMaterial(ctx context.Context, r *materialReq) (any, error) {
	if r.ActorName == "" || r.MaterialPath == "" {
		return nil, errors.New("actorName and materialPath are required")
	}
	if r.SlotIndex < 0 {
		return nil, fmt.Errorf("invalid slotIndex %d", r.SlotIndex)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	st, err := s.actorState(ctx, r.ActorName)
	if err != nil {
		return nil, err
	}
	var prev string
	if r.SlotIndex < len(st.Materials) {
		prev = st.Materials[r.SlotIndex]
	}

	cmd := editorbridge.NewCommand(editorbridge.CmdMaterialApply, map[string]any{
		"actorName":    r.ActorName,
		"materialPath": r.MaterialPath,
		"slotIndex":    r.SlotIndex,
	})
	resp, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	// An empty slot has nothing to restore: record without undo data.
	var undo history.UndoData
	if prev != "" {
		undo = history.MaterialApply{ActorName: r.ActorName, PreviousMaterial: prev, SlotIndex: r.SlotIndex}
	}
	rec := s.record(ctx, "material_apply",
		fmt.Sprintf("Applied %s to %s slot %d", r.MaterialPath, r.ActorName, r.SlotIndex), undo, cmd)

	out := fields(resp)
	out["operationId"] = rec.ID
	out["undoable"] = rec.Undoable()
	return out, nil
}
