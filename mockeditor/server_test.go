package mockeditor_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/dbopen"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/mockeditor"

	_ "modernc.org/sqlite"
)

func startServer(t *testing.T) (*mockeditor.Engine, *mockeditor.Server) {
	t.Helper()
	e := newEngine(t)
	srv := mockeditor.NewServer(e)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	return e, srv
}

func bridgeFor(t *testing.T, endpoint string, opts ...editorbridge.Option) *editorbridge.Bridge {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(connectivity.Schema))
	if err := connectivity.SeedRoutes(context.Background(), db, endpoint, "remote"); err != nil {
		t.Fatal(err)
	}
	router := connectivity.New(connectivity.WithLogger(quietLogger()))
	router.RegisterTransport(connectivity.StrategyHTTP, connectivity.HTTPFactory())
	if err := router.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { router.Close() })
	opts = append([]editorbridge.Option{editorbridge.WithLogger(quietLogger())}, opts...)
	return editorbridge.New(editorbridge.NewRouterChannel(router), opts...)
}

func TestServer_StatusAndCommand(t *testing.T) {
	_, srv := startServer(t)

	resp, err := http.Get(srv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st editorbridge.ListenerStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Ready || st.Project != "MockProject" || len(st.AvailableCommands) == 0 {
		t.Fatalf("status = %+v", st)
	}

	post, err := http.Post(srv.URL(), "application/json", strings.NewReader(`{"type":"system.test","params":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	defer post.Body.Close()
	var env map[string]any
	json.NewDecoder(post.Body).Decode(&env)
	if env["success"] != true {
		t.Fatalf("envelope = %v", env)
	}
}

func TestServer_ThrottleThroughBridge(t *testing.T) {
	e, srv := startServer(t)
	var waits []time.Duration
	b := bridgeFor(t, srv.URL(),
		editorbridge.WithBackoff(editorbridge.BackoffPolicy{MaxRetries: 3, Base: 10 * time.Millisecond, Max: 40 * time.Millisecond}),
		editorbridge.WithClock(func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))

	srv.Throttle(2)
	resp, err := b.ExecuteCommand(context.Background(), editorbridge.NewCommand(editorbridge.CmdActorSpawn, map[string]any{"assetPath": "/Game/Crate", "name": "Crate"}))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("spawn failed: %s", resp.Error)
	}
	if len(waits) != 2 {
		t.Fatalf("backoff waits = %v, want 2", waits)
	}
	if got := len(e.Executed()); got != 1 {
		t.Fatalf("engine ran %d commands, want 1", got)
	}
}

func TestServer_CommandWaitAnswers504(t *testing.T) {
	e, srv := startServer(t)
	srv.SetCommandWait(20 * time.Millisecond)
	srv.SetLatency(500 * time.Millisecond)
	b := bridgeFor(t, srv.URL(), editorbridge.WithCommandTimeout(5*time.Second))

	_, err := b.ExecuteCommand(context.Background(), editorbridge.NewCommand(editorbridge.CmdSystemTest, nil))
	if !editorbridge.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if !strings.Contains(err.Error(), "state unknown") {
		t.Fatalf("err text = %q", err.Error())
	}
	if got := len(e.Executed()); got != 0 {
		t.Fatalf("engine ran %d commands, want 0", got)
	}

	srv.SetLatency(0)
	resp, err := b.ExecuteCommand(context.Background(), editorbridge.NewCommand(editorbridge.CmdSystemTest, nil))
	if err != nil || !resp.Success {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}

func TestServer_RestartHandshake(t *testing.T) {
	_, srv := startServer(t)
	b := bridgeFor(t, srv.URL(),
		editorbridge.WithRestartWait(time.Millisecond),
		editorbridge.WithReadyTimeout(2*time.Second),
		editorbridge.WithRestartTrigger(editorbridge.FuncTrigger(func(ctx context.Context) error {
			return srv.Relisten()
		})))
	ctx := context.Background()

	h, err := b.Restart(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for srv.Running() {
		if time.Now().After(deadline) {
			t.Fatal("listener did not stop after system.restart")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.IsRemoteAvailable(ctx) {
		t.Fatal("stopped listener reported available")
	}
	if _, err := b.ExecuteCommand(ctx, editorbridge.NewCommand(editorbridge.CmdSystemTest, nil)); !editorbridge.IsOffline(err) {
		t.Fatalf("err = %v, want offline", err)
	}

	if err := h.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	if h.State() != editorbridge.RestartReady {
		t.Fatalf("state = %s, want ready", h.State())
	}
	if !b.IsRemoteAvailable(ctx) {
		t.Fatal("listener not available after restart")
	}
}

func TestRegisterConnectivity(t *testing.T) {
	e := newEngine(t)
	db := dbopen.OpenMemory(t, dbopen.WithSchema(connectivity.Schema))
	if err := connectivity.SeedRoutes(context.Background(), db, "", "mock"); err != nil {
		t.Fatal(err)
	}
	router := connectivity.New(connectivity.WithLogger(quietLogger()))
	mockeditor.RegisterConnectivity(router, e)
	if err := router.Reload(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { router.Close() })

	b := editorbridge.New(editorbridge.NewRouterChannel(router), editorbridge.WithLogger(quietLogger()))
	st, err := b.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Project != "MockProject" {
		t.Fatalf("project = %q", st.Project)
	}
	resp, err := b.ExecuteCommand(context.Background(), editorbridge.NewCommand(editorbridge.CmdProjectInfo, nil))
	if err != nil || !resp.Success {
		t.Fatalf("project.info: %v %+v", err, resp)
	}
}
