// Package editorbridge turns one-shot HTTP requests to the editor listener
// into a reliable request/response protocol: a Command goes out, a Response
// envelope or a classified local error comes back.
//
// The listener runs every command on the editor's main thread, one at a
// time, and is not always running. The Bridge therefore keeps at most one
// command outstanding, probes availability on a separate path, retries only
// when the listener throttles its intake, and never retries a timeout.
//
//	b := editorbridge.New(editorbridge.NewRouterChannel(router),
//		editorbridge.WithCommandTimeout(30*time.Second))
//	resp, err := b.ExecuteCommand(ctx, editorbridge.NewCommand(editorbridge.CmdActorSpawn, params))
package editorbridge

import (
	"encoding/json"
	"maps"
)

// Command types understood by the listener. The set is open: any type
// string can be sent, these are the ones this module issues itself.
const (
	CmdActorSpawn    = "actor.spawn"
	CmdActorDelete   = "actor.delete"
	CmdActorModify   = "actor.modify"
	CmdActorState    = "actor.state"
	CmdMaterialApply = "material.apply"
	CmdLevelSave     = "level.save"
	CmdLevelSnapshot = "level.snapshot"
	CmdLevelRestore  = "level.restore"
	CmdLevelActors   = "level.actors"
	CmdProjectInfo   = "project.info"
	CmdPythonExecute = "python.execute"
	CmdSystemRestart = "system.restart"
	CmdSystemTest    = "system.test"
)

// Command is a (type, params) pair sent to the listener.
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// NewCommand builds a Command with its own copy of params, so later
// mutation of the caller's map cannot change what was sent or recorded.
func NewCommand(typ string, params map[string]any) Command {
	return Command{Type: typ, Params: maps.Clone(params)}
}

// MarshalJSON always encodes params as an object.
func (c Command) MarshalJSON() ([]byte, error) {
	type wire Command
	w := wire(c)
	if w.Params == nil {
		w.Params = map[string]any{}
	}
	return json.Marshal(w)
}

// Param returns one parameter value.
func (c Command) Param(key string) (any, bool) {
	v, ok := c.Params[key]
	return v, ok
}
