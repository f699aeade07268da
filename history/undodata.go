// Package history is the operation ledger behind undo and redo: a linear
// list of executed operations with a cursor, the closed set of undo data
// kinds, the table that turns undo data into an inverse command, and the
// batch Undo/Redo drivers that report itemized results.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names an undo data variant.
type Kind string

const (
	KindActorSpawn    Kind = "actor_spawn"
	KindActorDelete   Kind = "actor_delete"
	KindActorModify   Kind = "actor_modify"
	KindMaterialApply Kind = "material_apply"
	KindLevelSave     Kind = "level_save"
	KindCustom        Kind = "custom"
)

// UndoData is what an operation captured to be reversed later. The set of
// implementations is closed to this package.
type UndoData interface {
	Kind() Kind
	undoData()
}

// Vector is an (X, Y, Z) triple used for location and scale.
type Vector [3]float64

// Rotator is (Roll, Pitch, Yaw) in degrees.
type Rotator [3]float64

// ActorSpawn: the spawned actor's name. Undo deletes it.
type ActorSpawn struct {
	ActorName string `json:"actorName"`
}

// ActorDelete: everything needed to spawn the actor again.
type ActorDelete struct {
	ActorName string  `json:"actorName"`
	AssetPath string  `json:"assetPath"`
	Location  Vector  `json:"location"`
	Rotation  Rotator `json:"rotation"`
	Scale     Vector  `json:"scale"`
	Folder    string  `json:"folder,omitempty"`
}

// ActorModify: the previous values of the fields the modification touched.
// Nil fields were not touched and must stay that way on undo.
type ActorModify struct {
	ActorName        string   `json:"actorName"`
	PreviousLocation *Vector  `json:"previousLocation,omitempty"`
	PreviousRotation *Rotator `json:"previousRotation,omitempty"`
	PreviousScale    *Vector  `json:"previousScale,omitempty"`
	PreviousFolder   *string  `json:"previousFolder,omitempty"`
	PreviousMesh     *string  `json:"previousMesh,omitempty"`
}

// Empty reports whether no field was captured.
func (m ActorModify) Empty() bool {
	return m.PreviousLocation == nil && m.PreviousRotation == nil && m.PreviousScale == nil &&
		m.PreviousFolder == nil && m.PreviousMesh == nil
}

// MaterialApply: the material that sat in the slot before.
type MaterialApply struct {
	ActorName        string `json:"actorName"`
	PreviousMaterial string `json:"previousMaterial"`
	SlotIndex        int    `json:"slotIndex"`
}

// LevelSave marks a save to disk. It has no inverse.
type LevelSave struct {
	LevelName string `json:"levelName,omitempty"`
}

// Custom carries an opaque payload. It has no inverse.
type Custom struct {
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (ActorSpawn) Kind() Kind    { return KindActorSpawn }
func (ActorDelete) Kind() Kind   { return KindActorDelete }
func (ActorModify) Kind() Kind   { return KindActorModify }
func (MaterialApply) Kind() Kind { return KindMaterialApply }
func (LevelSave) Kind() Kind     { return KindLevelSave }
func (Custom) Kind() Kind        { return KindCustom }

func (ActorSpawn) undoData()    {}
func (ActorDelete) undoData()   {}
func (ActorModify) undoData()   {}
func (MaterialApply) undoData() {}
func (LevelSave) undoData()     {}
func (Custom) undoData()        {}

// concrete turns a pointer variant into its value. A nil pointer is no
// undo data at all.
func concrete(u UndoData) UndoData {
	switch v := u.(type) {
	case *ActorSpawn:
		if v != nil {
			return *v
		}
	case *ActorDelete:
		if v != nil {
			return *v
		}
	case *ActorModify:
		if v != nil {
			return *v
		}
	case *MaterialApply:
		if v != nil {
			return *v
		}
	case *LevelSave:
		if v != nil {
			return *v
		}
	case *Custom:
		if v != nil {
			return *v
		}
	default:
		return u
	}
	return nil
}

// ErrUnknownKind is returned when decoding undo data with an unlisted type.
var ErrUnknownKind = errors.New("history: unknown undo data kind")

// MarshalUndoData encodes u as {"type": kind, ...fields}.
func MarshalUndoData(u UndoData) ([]byte, error) {
	u = concrete(u)
	if u == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("history: encode %s: %w", u.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("history: encode %s: %w", u.Kind(), err)
	}
	kind, _ := json.Marshal(string(u.Kind()))
	fields["type"] = kind
	return json.Marshal(fields)
}

// UnmarshalUndoData decodes the output of MarshalUndoData. A null input
// yields nil undo data.
func UnmarshalUndoData(data []byte) (UndoData, error) {
	if string(data) == "null" || len(data) == 0 {
		return nil, nil
	}
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("history: decode undo data: %w", err)
	}

	var u UndoData
	var err error
	switch head.Type {
	case KindActorSpawn:
		var v ActorSpawn
		err = json.Unmarshal(data, &v)
		u = v
	case KindActorDelete:
		var v ActorDelete
		err = json.Unmarshal(data, &v)
		u = v
	case KindActorModify:
		var v ActorModify
		err = json.Unmarshal(data, &v)
		u = v
	case KindMaterialApply:
		var v MaterialApply
		err = json.Unmarshal(data, &v)
		u = v
	case KindLevelSave:
		var v LevelSave
		err = json.Unmarshal(data, &v)
		u = v
	case KindCustom:
		var v Custom
		err = json.Unmarshal(data, &v)
		u = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", head.Type, err)
	}
	return u, nil
}
