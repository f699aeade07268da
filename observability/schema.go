package observability

import (
	"database/sql"

	"github.com/hazyhaar/uemcp/dbopen"
)

// Schema contains the DDL for the observability tables. Call Init(db) to
// apply it, or pass it to dbopen.WithSchema.
const Schema = `
-- Command audit trail: one row per bridge call.
CREATE TABLE IF NOT EXISTS command_audit (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    command_type TEXT NOT NULL,
    request_id TEXT,
    session_id TEXT,
    tool_name TEXT,
    params TEXT NOT NULL DEFAULT '{}',
    result TEXT,
    status TEXT NOT NULL CHECK(status IN ('success','remote_error','timeout','offline','throttled','error')),
    attempts INTEGER NOT NULL DEFAULT 1,
    error_message TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON command_audit(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_command ON command_audit(command_type, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_status ON command_audit(status);

-- Listener lifecycle: availability transitions and restart phases.
CREATE TABLE IF NOT EXISTS listener_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    endpoint TEXT,
    detail TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listener_events_time ON listener_events(timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// OpenDB opens (or creates) the observability database.
func OpenDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithBusyTimeout(5000), dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
}
