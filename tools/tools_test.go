package tools_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uemcp/checkpoint"
	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/dbopen"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
	"github.com/hazyhaar/uemcp/mockeditor"
	"github.com/hazyhaar/uemcp/tools"

	_ "modernc.org/sqlite"
)

var testImpl = &mcp.Implementation{Name: "uemcp-test", Version: "0.0.1"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	session *mcp.ClientSession
	engine  *mockeditor.Engine
	ledger  *history.Ledger
}

func routerFor(t *testing.T, executor, endpoint string, engine *mockeditor.Engine) *connectivity.Router {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(connectivity.Schema))
	if err := connectivity.SeedRoutes(context.Background(), db, endpoint, executor); err != nil {
		t.Fatal(err)
	}
	r := connectivity.New(connectivity.WithLogger(quietLogger()))
	r.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
	if engine != nil {
		mockeditor.RegisterConnectivity(r, engine)
	}
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func connect(t *testing.T, svc *tools.Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func setup(t *testing.T, policy checkpoint.Policy) *env {
	t.Helper()
	engine := mockeditor.NewEngine(mockeditor.WithLogger(quietLogger()))
	t.Cleanup(engine.Close)

	bridge := editorbridge.New(
		editorbridge.NewRouterChannel(routerFor(t, "mock", "", engine)),
		editorbridge.WithLogger(quietLogger()),
		editorbridge.WithRestartWait(0),
	)
	ledger := history.NewLedger(history.WithLogger(quietLogger()))
	cps := checkpoint.New(bridge, ledger, checkpoint.WithPolicy(policy), checkpoint.WithLogger(quietLogger()))
	svc := tools.New(bridge, ledger, cps, tools.WithLogger(quietLogger()))
	return &env{session: connect(t, svc), engine: engine, ledger: ledger}
}

// call invokes a tool and returns its text, failing on a tool error.
func (e *env) call(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	text, isErr := e.try(t, name, args)
	if isErr {
		t.Fatalf("%s: tool error: %s", name, text)
	}
	return text
}

func (e *env) try(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := e.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s: empty result", name)
	}
	return res.Content[0].(*mcp.TextContent).Text, res.IsError
}

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
	return m
}

func TestTools_SpawnModifyDeleteUndoRedo(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)

	out := decode(t, e.call(t, "actor_spawn", map[string]any{"assetPath": "/Engine/BasicShapes/Cube", "name": "Cube1"}))
	if out["actorName"] != "Cube1" || out["operationId"] == "" {
		t.Fatalf("spawn = %v", out)
	}
	e.call(t, "actor_modify", map[string]any{"actorName": "Cube1", "location": []float64{200, 0, 0}})
	e.call(t, "actor_delete", map[string]any{"actorName": "Cube1"})
	if _, ok := e.engine.Actor("Cube1"); ok {
		t.Fatal("Cube1 still present")
	}

	summary := e.call(t, "undo", map[string]any{"count": 2})
	if !strings.HasPrefix(summary, "Undo: 2 succeeded, 0 failed") {
		t.Fatalf("summary = %q", summary)
	}
	cube, ok := e.engine.Actor("Cube1")
	if !ok || cube.Location != [3]float64{0, 0, 0} {
		t.Fatalf("Cube1 after undo = %+v (present %t)", cube, ok)
	}
	if st := e.ledger.Status(); st.CurrentIndex != 0 || st.TotalOperations != 3 {
		t.Fatalf("status = %+v", st)
	}

	e.call(t, "redo", map[string]any{"count": 1})
	cube, _ = e.engine.Actor("Cube1")
	if cube.Location != [3]float64{200, 0, 0} {
		t.Fatalf("location after redo = %v", cube.Location)
	}

	list := decode(t, e.call(t, "history_list", nil))
	ops := list["operations"].([]any)
	if len(ops) != 3 {
		t.Fatalf("operations = %v", ops)
	}
	if last := ops[2].(map[string]any); last["done"] != false || last["toolName"] != "actor_delete" {
		t.Fatalf("last op = %v", last)
	}
}

func TestTools_UndoStopsAtLevelSave(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/A", "name": "A"})
	e.call(t, "level_save", nil)
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/B", "name": "B"})

	summary := e.call(t, "undo", map[string]any{"count": 3})
	if !strings.HasPrefix(summary, "Undo: 1 succeeded, 1 failed") {
		t.Fatalf("summary = %q", summary)
	}
	if !strings.Contains(summary, "level_save") {
		t.Fatalf("summary does not name the blocking step: %q", summary)
	}
	if _, ok := e.engine.Actor("A"); !ok {
		t.Fatal("undo went past the save")
	}
	if st := e.ledger.Status(); st.CurrentIndex != 1 {
		t.Fatalf("cursor = %d, want 1", st.CurrentIndex)
	}
}

func TestTools_NothingToUndo(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	if got := e.call(t, "undo", nil); got != "Undo: nothing to undo" {
		t.Fatalf("undo = %q", got)
	}
}

func TestTools_RemoteFailureIsNotRecorded(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	text, isErr := e.try(t, "python_proxy", map[string]any{"code": "import unreal"})
	if !isErr || !strings.Contains(text, "not available") {
		t.Fatalf("python_proxy = %q (error %t)", text, isErr)
	}
	if text, isErr := e.try(t, "actor_delete", map[string]any{"actorName": "Ghost"}); !isErr || !strings.Contains(text, "Actor not found") {
		t.Fatalf("delete = %q (error %t)", text, isErr)
	}
	if n := e.ledger.Status().TotalOperations; n != 0 {
		t.Fatalf("recorded %d failed operations", n)
	}
}

func TestTools_MaterialUndoOnFreshActor(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/Wall", "name": "Wall"})

	out := decode(t, e.call(t, "material_apply", map[string]any{"actorName": "Wall", "materialPath": "/Game/M_Brick"}))
	if out["undoable"] != true {
		t.Fatalf("apply over the spawned material = %v, want undoable", out)
	}

	summary := e.call(t, "undo", map[string]any{"count": 2})
	if !strings.HasPrefix(summary, "Undo: 2 succeeded") {
		t.Fatalf("summary = %q", summary)
	}
	if _, ok := e.engine.Actor("Wall"); ok {
		t.Fatal("Wall survived undo of its spawn")
	}
	summary = e.call(t, "redo", map[string]any{"count": 1})
	if !strings.HasPrefix(summary, "Redo: 1 succeeded") {
		t.Fatalf("summary = %q", summary)
	}
	wall, _ := e.engine.Actor("Wall")
	if wall.Materials[0] != mockeditor.DefaultMaterial("/Game/Wall") {
		t.Fatalf("material = %q", wall.Materials[0])
	}
}

func TestTools_MaterialUndoNeedsPrevious(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/Wall", "name": "Wall"})

	first := decode(t, e.call(t, "material_apply", map[string]any{"actorName": "Wall", "materialPath": "/Game/M_Brick", "slotIndex": 2}))
	if first["undoable"] != false {
		t.Fatalf("apply to an empty slot = %v, want not undoable", first)
	}
	second := decode(t, e.call(t, "material_apply", map[string]any{"actorName": "Wall", "materialPath": "/Game/M_Stone", "slotIndex": 2}))
	if second["undoable"] != true {
		t.Fatalf("second apply = %v, want undoable", second)
	}

	summary := e.call(t, "undo", map[string]any{"count": 1})
	if !strings.HasPrefix(summary, "Undo: 1 succeeded") {
		t.Fatalf("summary = %q", summary)
	}
	wall, _ := e.engine.Actor("Wall")
	if wall.Materials[2] != "/Game/M_Brick" {
		t.Fatalf("material = %q", wall.Materials[2])
	}
}

func TestTools_ModifyRequiresAField(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/Box", "name": "Box"})
	if _, isErr := e.try(t, "actor_modify", map[string]any{"actorName": "Box"}); !isErr {
		t.Fatal("empty modify accepted")
	}
}

func TestTools_CheckpointRestoreClearsHistory(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	e.call(t, "checkpoint_create", map[string]any{"name": "s1", "description": "empty level"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/A", "name": "A"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/B", "name": "B"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/C", "name": "C"})

	out := decode(t, e.call(t, "checkpoint_restore", map[string]any{"name": "s1"}))
	if out["policy"] != "clear" {
		t.Fatalf("restore = %v", out)
	}
	if names := e.engine.ActorNames(); len(names) != 0 {
		t.Fatalf("actors = %v", names)
	}
	if n := e.ledger.Status().TotalOperations; n != 0 {
		t.Fatalf("ledger has %d operations after restore", n)
	}

	list := decode(t, e.call(t, "checkpoint_list", nil))
	if cps := list["checkpoints"].([]any); len(cps) != 1 {
		t.Fatalf("checkpoints = %v", cps)
	}
	if _, isErr := e.try(t, "checkpoint_restore", map[string]any{"name": "missing"}); !isErr {
		t.Fatal("restore of unknown checkpoint succeeded")
	}
}

func TestTools_CheckpointRestoreKeepsHistory(t *testing.T) {
	e := setup(t, checkpoint.KeepLedger)
	e.call(t, "checkpoint_create", map[string]any{"name": "s1"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/A", "name": "A"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/B", "name": "B"})
	e.call(t, "actor_spawn", map[string]any{"assetPath": "/Game/C", "name": "C"})

	e.call(t, "checkpoint_restore", map[string]any{"name": "s1"})
	if n := e.ledger.Status().TotalOperations; n != 3 {
		t.Fatalf("ledger has %d operations, want 3", n)
	}
}

func TestTools_TestConnection(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	out := decode(t, e.call(t, "test_connection", nil))
	if out["connected"] != true {
		t.Fatalf("test_connection = %v", out)
	}
}

func TestTools_RestartWithoutTrigger(t *testing.T) {
	e := setup(t, checkpoint.ClearLedger)
	out := decode(t, e.call(t, "restart_listener", map[string]any{"force": true}))
	msg, _ := out["message"].(string)
	if out["state"] != "stopping" || !strings.Contains(msg, "UEMCP_RESTART_COMMAND") {
		t.Fatalf("restart = %v", out)
	}
	last := e.engine.Executed()
	if cmd := last[len(last)-1]; cmd.Type != editorbridge.CmdSystemRestart || cmd.Params["force"] != true {
		t.Fatalf("last command = %+v", cmd)
	}
}

func TestTools_OfflineAndTimeoutAreDistinct(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	endpoint := closed.URL
	closed.Close()

	bridge := editorbridge.New(
		editorbridge.NewRouterChannel(routerFor(t, "remote", endpoint, nil)),
		editorbridge.WithLogger(quietLogger()),
	)
	ledger := history.NewLedger()
	svc := tools.New(bridge, ledger, checkpoint.New(bridge, ledger), tools.WithLogger(quietLogger()))
	e := &env{session: connect(t, svc), ledger: ledger}

	text, isErr := e.try(t, "actor_spawn", map[string]any{"assetPath": "/Game/A"})
	if !isErr || !strings.Contains(text, "start the editor") {
		t.Fatalf("offline spawn = %q (error %t)", text, isErr)
	}
	if strings.Contains(text, "timed out") {
		t.Fatalf("offline reported as timeout: %q", text)
	}
	if text, isErr := e.try(t, "test_connection", nil); !isErr || !strings.Contains(text, "start the editor") {
		t.Fatalf("test_connection = %q", text)
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		w.Write([]byte(`{"success":false,"error":"Command execution timeout"}`))
	}))
	t.Cleanup(slow.Close)
	bridge = editorbridge.New(
		editorbridge.NewRouterChannel(routerFor(t, "remote", slow.URL, nil)),
		editorbridge.WithLogger(quietLogger()),
	)
	svc = tools.New(bridge, ledger, checkpoint.New(bridge, ledger), tools.WithLogger(quietLogger()))
	e = &env{session: connect(t, svc), ledger: ledger}
	text, isErr = e.try(t, "actor_spawn", map[string]any{"assetPath": "/Game/A"})
	if !isErr || !strings.Contains(text, "state unknown") {
		t.Fatalf("timeout spawn = %q (error %t)", text, isErr)
	}
	if ledger.Status().TotalOperations != 0 {
		t.Fatal("failed spawn recorded")
	}
}
