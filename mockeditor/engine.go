// Package mockeditor is an in-process stand-in for the editor listener.
// An Engine owns a small level of actors and executes commands one at a
// time on a single goroutine, the way the editor's main thread does. A
// Server exposes it over the listener's HTTP protocol.
package mockeditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/uemcp/editorbridge"
)

// Actor is one entity in the mock level.
type Actor struct {
	Name      string     `json:"name"`
	AssetPath string     `json:"assetPath"`
	Location  [3]float64 `json:"location"`
	Rotation  [3]float64 `json:"rotation"`
	Scale     [3]float64 `json:"scale"`
	Folder    string     `json:"folder,omitempty"`
	Mesh      string     `json:"mesh,omitempty"`
	Materials []string   `json:"materials,omitempty"`
}

func (a *Actor) clone() *Actor {
	c := *a
	c.Materials = slices.Clone(a.Materials)
	return &c
}

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("mockeditor: engine closed")

type request struct {
	cmd   editorbridge.Command
	reply chan map[string]any
	// inspect requests are not added to the executed log.
	inspect bool
}

// Engine executes commands sequentially on one goroutine. All level state
// is owned by that goroutine.
type Engine struct {
	project string
	version string
	logger  *slog.Logger

	reqs chan request
	quit chan struct{}
	done chan struct{}
	once sync.Once

	// owned by the loop goroutine
	actors map[string]*Actor
	serial map[string]int
	saves  int

	mu       sync.Mutex
	executed []editorbridge.Command
}

// Option configures an Engine.
type Option func(*Engine)

// WithProject sets the project name reported by status and project.info.
func WithProject(name string) Option { return func(e *Engine) { e.project = name } }

// WithEngineVersion sets the reported engine version.
func WithEngineVersion(v string) Option { return func(e *Engine) { e.version = v } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine starts an engine with an empty level. Call Close to stop it.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		project: "MockProject",
		version: "5.4.0-mock",
		logger:  slog.Default(),
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		actors:  make(map[string]*Actor),
		serial:  make(map[string]int),
	}
	for _, o := range opts {
		o(e)
	}
	go e.loop()
	return e
}

// Close stops the executor goroutine and waits for it.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.quit) })
	<-e.done
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case req := <-e.reqs:
			out := e.run(req.cmd)
			if !req.inspect {
				e.mu.Lock()
				e.executed = append(e.executed, req.cmd)
				e.mu.Unlock()
			}
			// the reply channel is buffered: an abandoned caller does not
			// stall the executor.
			req.reply <- out
		}
	}
}

// Handle decodes a {type, params} payload, runs it and encodes the
// envelope. It has the shape of a connectivity.Handler.
func (e *Engine) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var cmd editorbridge.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return json.Marshal(failure("invalid command payload: %v", err))
	}
	if cmd.Type == "" {
		return json.Marshal(failure("missing command type"))
	}
	out, err := e.submit(ctx, cmd, false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ExecuteCommand runs cmd and decodes the envelope, so an Engine can stand
// in for a Bridge.
func (e *Engine) ExecuteCommand(ctx context.Context, cmd editorbridge.Command) (*editorbridge.Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("mockeditor: encode %s: %w", cmd.Type, err)
	}
	body, err := e.Handle(ctx, payload)
	if err != nil {
		return nil, err
	}
	var resp editorbridge.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Engine) submit(ctx context.Context, cmd editorbridge.Command, inspect bool) (map[string]any, error) {
	// Round-trip through JSON so params look exactly like a decoded request.
	if b, err := json.Marshal(cmd); err == nil {
		var norm editorbridge.Command
		if json.Unmarshal(b, &norm) == nil {
			cmd = norm
		}
	}
	req := request{cmd: cmd, reply: make(chan map[string]any, 1), inspect: inspect}
	select {
	case e.reqs <- req:
	case <-e.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-req.reply:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Executed returns every command the engine ran, in order.
func (e *Engine) Executed() []editorbridge.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.executed)
}

// inspect runs a read-only command without logging it as executed.
func (e *Engine) inspect(cmd editorbridge.Command, key string, dst any) bool {
	out, err := e.submit(context.Background(), cmd, true)
	if err != nil || out["success"] != true {
		return false
	}
	b, err := json.Marshal(out[key])
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// Actor returns a copy of the named actor.
func (e *Engine) Actor(name string) (Actor, bool) {
	var a Actor
	ok := e.inspect(editorbridge.NewCommand(editorbridge.CmdActorState, map[string]any{"actorName": name}), "actor", &a)
	return a, ok
}

// ActorNames lists the actors in the level, sorted.
func (e *Engine) ActorNames() []string {
	var names []string
	e.inspect(editorbridge.NewCommand(editorbridge.CmdLevelActors, nil), "actors", &names)
	return names
}

// Status is the body served on GET /.
func (e *Engine) Status() editorbridge.ListenerStatus {
	return editorbridge.ListenerStatus{
		Status:            "ok",
		Service:           "uemcp-listener",
		Version:           "mock",
		Project:           e.project,
		EngineVersion:     e.version,
		Ready:             true,
		AvailableCommands: Commands(),
	}
}

// Commands lists the command types the engine understands.
func Commands() []string {
	return slices.Sorted(maps.Keys(handlers))
}

type handlerFunc func(e *Engine, p params) map[string]any

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		editorbridge.CmdActorSpawn:    (*Engine).spawn,
		editorbridge.CmdActorDelete:   (*Engine).delete,
		editorbridge.CmdActorModify:   (*Engine).modify,
		editorbridge.CmdActorState:    (*Engine).state,
		editorbridge.CmdMaterialApply: (*Engine).applyMaterial,
		editorbridge.CmdLevelSave:     (*Engine).save,
		editorbridge.CmdLevelActors:   (*Engine).listActors,
		editorbridge.CmdLevelSnapshot: (*Engine).snapshot,
		editorbridge.CmdLevelRestore:  (*Engine).restore,
		editorbridge.CmdProjectInfo:   (*Engine).projectInfo,
		editorbridge.CmdSystemTest:    (*Engine).systemTest,
		editorbridge.CmdSystemRestart: (*Engine).systemRestart,
		editorbridge.CmdPythonExecute: (*Engine).python,
	}
}

func (e *Engine) run(cmd editorbridge.Command) map[string]any {
	h, ok := handlers[cmd.Type]
	if !ok {
		return failure("Unknown command type: %s", cmd.Type)
	}
	out := h(e, params(cmd.Params))
	e.logger.Debug("mock command", "type", cmd.Type, "success", out["success"])
	return out
}

func success(fields map[string]any) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	return fields
}

func failure(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

// DefaultMaterial is the slot 0 material a freshly spawned mesh carries.
func DefaultMaterial(asset string) string { return asset + "_Mat" }

func (e *Engine) spawn(p params) map[string]any {
	asset, _ := p.str("assetPath")
	if asset == "" {
		return failure("assetPath is required")
	}
	name, _ := p.str("name")
	if name == "" {
		base := path.Base(asset)
		if i := strings.IndexByte(base, '.'); i > 0 {
			base = base[:i]
		}
		for {
			e.serial[base]++
			name = fmt.Sprintf("%s_%d", base, e.serial[base])
			if _, taken := e.actors[name]; !taken {
				break
			}
		}
	}
	if _, exists := e.actors[name]; exists {
		return failure("Actor %s already exists", name)
	}

	a := &Actor{Name: name, AssetPath: asset, Scale: [3]float64{1, 1, 1}, Mesh: asset, Materials: []string{DefaultMaterial(asset)}}
	var err error
	if a.Location, _, err = p.vec("location", a.Location); err != nil {
		return failure("%v", err)
	}
	if a.Rotation, _, err = p.vec("rotation", a.Rotation); err != nil {
		return failure("%v", err)
	}
	if a.Scale, _, err = p.vec("scale", a.Scale); err != nil {
		return failure("%v", err)
	}
	a.Folder, _ = p.str("folder")
	e.actors[name] = a
	return success(map[string]any{
		"actorName": name,
		"location":  a.Location,
		"rotation":  a.Rotation,
		"scale":     a.Scale,
		"message":   fmt.Sprintf("Spawned %s", name),
	})
}

func (e *Engine) lookup(p params) (*Actor, map[string]any) {
	name, _ := p.str("actorName")
	if name == "" {
		return nil, failure("actorName is required")
	}
	a, ok := e.actors[name]
	if !ok {
		return nil, failure("Actor not found: %s", name)
	}
	return a, nil
}

func (e *Engine) delete(p params) map[string]any {
	a, fail := e.lookup(p)
	if fail != nil {
		return fail
	}
	delete(e.actors, a.Name)
	return success(map[string]any{"deleted": a.Name, "message": fmt.Sprintf("Deleted %s", a.Name)})
}

func (e *Engine) modify(p params) map[string]any {
	a, fail := e.lookup(p)
	if fail != nil {
		return fail
	}
	next := a.clone()
	var err error
	changed := false
	var ok bool
	if next.Location, ok, err = p.vec("location", next.Location); err != nil {
		return failure("%v", err)
	}
	changed = changed || ok
	if next.Rotation, ok, err = p.vec("rotation", next.Rotation); err != nil {
		return failure("%v", err)
	}
	changed = changed || ok
	if next.Scale, ok, err = p.vec("scale", next.Scale); err != nil {
		return failure("%v", err)
	}
	changed = changed || ok
	if v, ok := p.str("folder"); ok {
		next.Folder = v
		changed = true
	}
	if v, ok := p.str("mesh"); ok {
		next.Mesh = v
		changed = true
	}
	if !changed {
		return failure("No modifications specified for %s", a.Name)
	}
	e.actors[a.Name] = next
	return success(map[string]any{"actorName": a.Name, "actor": next})
}

func (e *Engine) state(p params) map[string]any {
	a, fail := e.lookup(p)
	if fail != nil {
		return fail
	}
	return success(map[string]any{"actorName": a.Name, "actor": a.clone()})
}

func (e *Engine) applyMaterial(p params) map[string]any {
	a, fail := e.lookup(p)
	if fail != nil {
		return fail
	}
	mat, _ := p.str("materialPath")
	if mat == "" {
		return failure("materialPath is required")
	}
	slot := int(p.num("slotIndex", 0))
	if slot < 0 {
		return failure("invalid slotIndex %d", slot)
	}
	next := a.clone()
	for len(next.Materials) <= slot {
		next.Materials = append(next.Materials, "")
	}
	prev := next.Materials[slot]
	next.Materials[slot] = mat
	e.actors[a.Name] = next
	return success(map[string]any{
		"actorName":        a.Name,
		"materialPath":     mat,
		"slotIndex":        slot,
		"previousMaterial": prev,
	})
}

func (e *Engine) save(params) map[string]any {
	e.saves++
	return success(map[string]any{"levelName": "MockLevel", "saved": true, "saveCount": e.saves})
}

func (e *Engine) listActors(params) map[string]any {
	names := slices.Sorted(maps.Keys(e.actors))
	return success(map[string]any{"actors": names, "count": len(names)})
}

type snapshot struct {
	Actors []*Actor `json:"actors"`
}

func (e *Engine) snapshot(params) map[string]any {
	var s snapshot
	for _, name := range slices.Sorted(maps.Keys(e.actors)) {
		s.Actors = append(s.Actors, e.actors[name].clone())
	}
	if s.Actors == nil {
		s.Actors = []*Actor{}
	}
	return success(map[string]any{"snapshot": s, "actorCount": len(s.Actors)})
}

func (e *Engine) restore(p params) map[string]any {
	raw, ok := p["snapshot"]
	if !ok {
		return failure("snapshot is required")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return failure("invalid snapshot: %v", err)
	}
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return failure("invalid snapshot: %v", err)
	}
	actors := make(map[string]*Actor, len(s.Actors))
	for _, a := range s.Actors {
		if a == nil || a.Name == "" {
			return failure("invalid snapshot: actor without name")
		}
		actors[a.Name] = a
	}
	e.actors = actors
	return success(map[string]any{"actorCount": len(actors)})
}

func (e *Engine) projectInfo(params) map[string]any {
	return success(map[string]any{"projectName": e.project, "engineVersion": e.version})
}

func (e *Engine) systemTest(params) map[string]any {
	return success(map[string]any{"message": "Listener is running", "actorCount": len(e.actors)})
}

func (e *Engine) systemRestart(p params) map[string]any {
	force, _ := p["force"].(bool)
	return success(map[string]any{
		"message": "Listener stopping. Trigger the restart out of band.",
		"force":   force,
	})
}

func (e *Engine) python(params) map[string]any {
	return failure("python.execute is not available in the mock editor")
}
