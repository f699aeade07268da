package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/uemcp/dbopen"
)

// Strategies accepted by the routes table.
const (
	StrategyLocal = "local" // in-memory Handler registered via RegisterLocal
	StrategyHTTP  = "http"  // HTTPFactory against the route endpoint
	StrategyNoop  = "noop"  // succeed with an empty response
)

// Service names used by the editor bridge.
const (
	ServiceEditor       = "editor"
	ServiceEditorStatus = "editor.status"
)

// Schema defines the routes table that drives the router. The config column
// holds per-route JSON (timeout_ms, method, content_type). Any write bumps
// PRAGMA data_version, which Watch uses to trigger a hot-reload.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'noop')),
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_routes_strategy ON routes(strategy);

CREATE TRIGGER IF NOT EXISTS trg_routes_updated_at
AFTER UPDATE ON routes
FOR EACH ROW
BEGIN
    UPDATE routes SET updated_at = strftime('%s', 'now') WHERE service_name = NEW.service_name;
END;
`

// OpenDB opens a SQLite database at path with the routes schema applied.
// The caller must blank-import the SQLite driver:
//
//	import _ "modernc.org/sqlite"
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithBusyTimeout(5000), dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}

// Init creates the routes table if it doesn't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// SeedRoutes writes the editor and editor.status routes for the given
// executor ("remote", "mock" or "noop"). endpoint is the listener base URL
// and is only used by "remote". Existing rows are overwritten.
func SeedRoutes(ctx context.Context, db *sql.DB, endpoint, executor string) error {
	admin := NewAdmin(db)
	switch executor {
	case "remote", "":
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		if err := admin.UpsertRoute(ctx, ServiceEditor, StrategyHTTP, endpoint,
			mustJSON(httpConfig{Method: "POST", ContentType: "application/json"})); err != nil {
			return err
		}
		return admin.UpsertRoute(ctx, ServiceEditorStatus, StrategyHTTP, endpoint,
			mustJSON(httpConfig{Method: "GET"}))
	case "mock":
		if err := admin.UpsertRoute(ctx, ServiceEditor, StrategyLocal, "", nil); err != nil {
			return err
		}
		return admin.UpsertRoute(ctx, ServiceEditorStatus, StrategyLocal, "", nil)
	case "noop":
		if err := admin.UpsertRoute(ctx, ServiceEditor, StrategyNoop, "", nil); err != nil {
			return err
		}
		return admin.UpsertRoute(ctx, ServiceEditorStatus, StrategyNoop, "", nil)
	default:
		return fmt.Errorf("connectivity: unknown executor %q", executor)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
