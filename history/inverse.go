package history

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/uemcp/editorbridge"
)

var (
	// ErrUndoUnsupported: the operation has no inverse.
	ErrUndoUnsupported = errors.New("undo not supported")
	// ErrNothingToUndo and ErrNothingToRedo only appear in batch reports.
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// UnsupportedError names the kind that cannot be reversed. Kind is empty
// when the record carries no undo data at all.
type UnsupportedError struct {
	Kind Kind
}

func (e *UnsupportedError) Error() string {
	if e.Kind == "" {
		return "history: operation recorded no undo data"
	}
	return fmt.Sprintf("history: %s operations cannot be undone", e.Kind)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUndoUnsupported }

// Inverse returns the command that reverses an operation. The result
// depends only on u.
func Inverse(u UndoData) (editorbridge.Command, error) {
	switch v := concrete(u).(type) {
	case nil:
		return editorbridge.Command{}, &UnsupportedError{}

	case ActorSpawn:
		return editorbridge.NewCommand(editorbridge.CmdActorDelete, map[string]any{
			"actorName": v.ActorName,
		}), nil

	case ActorDelete:
		params := map[string]any{
			"assetPath": v.AssetPath,
			"name":      v.ActorName,
			"location":  v.Location[:],
			"rotation":  v.Rotation[:],
			"scale":     v.Scale[:],
		}
		if v.Folder != "" {
			params["folder"] = v.Folder
		}
		return editorbridge.NewCommand(editorbridge.CmdActorSpawn, params), nil

	case ActorModify:
		if v.Empty() {
			return editorbridge.Command{}, fmt.Errorf("history: actor_modify on %s captured no fields", v.ActorName)
		}
		params := map[string]any{"actorName": v.ActorName}
		if v.PreviousLocation != nil {
			params["location"] = v.PreviousLocation[:]
		}
		if v.PreviousRotation != nil {
			params["rotation"] = v.PreviousRotation[:]
		}
		if v.PreviousScale != nil {
			params["scale"] = v.PreviousScale[:]
		}
		if v.PreviousFolder != nil {
			params["folder"] = *v.PreviousFolder
		}
		if v.PreviousMesh != nil {
			params["mesh"] = *v.PreviousMesh
		}
		return editorbridge.NewCommand(editorbridge.CmdActorModify, params), nil

	case MaterialApply:
		if v.PreviousMaterial == "" {
			return editorbridge.Command{}, fmt.Errorf("history: no previous material recorded for %s slot %d", v.ActorName, v.SlotIndex)
		}
		return editorbridge.NewCommand(editorbridge.CmdMaterialApply, map[string]any{
			"actorName":    v.ActorName,
			"materialPath": v.PreviousMaterial,
			"slotIndex":    v.SlotIndex,
		}), nil

	case LevelSave, Custom:
		return editorbridge.Command{}, &UnsupportedError{Kind: v.Kind()}
	}
	return editorbridge.Command{}, &UnsupportedError{}
}
