package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/uemcp/config"
	"github.com/hazyhaar/uemcp/editorbridge"
)

func mockApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Executor = "mock"
	cfg.DBPath = filepath.Join(t.TempDir(), "uemcp.db")
	cfg.RestartWait = 0

	a, err := newApp(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func mockShell(t *testing.T, a *app) (*shell, *bytes.Buffer) {
	t.Helper()
	srv, _, err := a.mcpServer()
	if err != nil {
		t.Fatal(err)
	}
	session, err := connectInMemory(context.Background(), srv)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	var out bytes.Buffer
	return newShell(a, session, &out), &out
}

func TestParseParams(t *testing.T) {
	p, err := parseParams(nil)
	if err != nil || p != nil {
		t.Fatalf("no args = %v, %v", p, err)
	}
	p, err = parseParams([]string{`{"name":"A","force":true}`})
	if err != nil || p["name"] != "A" || p["force"] != true {
		t.Fatalf("object = %v, %v", p, err)
	}
	if _, err := parseParams([]string{`[1,2]`}); err == nil {
		t.Fatal("array accepted as params")
	}
}

func TestRunCommand(t *testing.T) {
	a := mockApp(t)
	ctx := context.Background()

	var out bytes.Buffer
	err := runCommand(ctx, &out, a.bridge, editorbridge.NewCommand(editorbridge.CmdActorSpawn,
		map[string]any{"assetPath": "/Game/A", "name": "A"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"actorName": "A"`) {
		t.Fatalf("output = %s", out.String())
	}

	out.Reset()
	err = runCommand(ctx, &out, a.bridge, editorbridge.NewCommand("bogus.command", nil))
	var remote *editorbridge.RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "Unknown command type") {
		t.Fatalf("err = %v, want a remote error", err)
	}
	if !strings.Contains(out.String(), `"success": false`) {
		t.Fatalf("failure envelope not printed: %s", out.String())
	}
}

func TestRunRestart_WithoutTrigger(t *testing.T) {
	a := mockApp(t)
	var out bytes.Buffer
	if err := runRestart(context.Background(), &out, a.bridge, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "listener stopped") {
		t.Fatalf("output = %s", out.String())
	}
}

func TestShell_RawToolsUndo(t *testing.T) {
	a := mockApp(t)
	sh, out := mockShell(t, a)
	ctx := context.Background()

	sh.handle(ctx, `actor.spawn {"assetPath":"/Game/A","name":"A"}`)
	if _, ok := a.engine.Actor("A"); !ok {
		t.Fatalf("raw spawn did not run: %s", out.String())
	}

	sh.handle(ctx, `tool actor_spawn {"assetPath":"/Game/B","name":"B"}`)
	if _, ok := a.engine.Actor("B"); !ok {
		t.Fatalf("tool spawn did not run: %s", out.String())
	}

	out.Reset()
	sh.handle(ctx, "history")
	if !strings.Contains(out.String(), "actor_spawn") {
		t.Fatalf("history = %s", out.String())
	}

	out.Reset()
	sh.handle(ctx, "undo")
	if !strings.Contains(out.String(), "Undo: 1 succeeded") {
		t.Fatalf("undo = %s", out.String())
	}
	if _, ok := a.engine.Actor("B"); ok {
		t.Fatal("B survived undo")
	}
	// Raw commands are not recorded.
	if _, ok := a.engine.Actor("A"); !ok {
		t.Fatal("A removed by undo")
	}
}

func TestShell_Errors(t *testing.T) {
	a := mockApp(t)
	sh, out := mockShell(t, a)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{`actor.delete {"actorName":"Ghost"}`, `"success": false`},
		{`actor.spawn {bad json`, "params must be a JSON object"},
		{"undo zero", "count must be a positive integer"},
		{"tool", "usage: tool"},
		{`tool actor_delete {"actorName":"Ghost"}`, "error: "},
	}
	for _, tt := range tests {
		out.Reset()
		if sh.handle(ctx, tt.line) {
			t.Fatalf("%q ended the shell", tt.line)
		}
		if !strings.Contains(out.String(), tt.want) {
			t.Errorf("%q: output %q, want %q", tt.line, out.String(), tt.want)
		}
	}
	if !sh.handle(ctx, "quit") {
		t.Fatal("quit did not end the shell")
	}
}

func TestShell_RunReadsUntilEOF(t *testing.T) {
	a := mockApp(t)
	sh, out := mockShell(t, a)

	in := strings.NewReader("status\nproject.info\nroutes\n")
	if err := sh.run(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "uemcp-listener") || !strings.Contains(out.String(), "MockProject") ||
		!strings.Contains(out.String(), "editor.status") {
		t.Fatalf("output = %s", out.String())
	}
}
