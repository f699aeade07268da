package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/uemcp/dbopen"
	"github.com/hazyhaar/uemcp/idgen"
)

// Listener event types.
const (
	EventOnline          = "online"
	EventOffline         = "offline"
	EventRestartStopping = "restart_stopping"
	EventRestartReady    = "restart_ready"
	EventRestartFailed   = "restart_failed"
)

// ListenerEvent is a change in the listener's lifecycle.
type ListenerEvent struct {
	EventID   string
	EventType string
	Endpoint  string
	Detail    string
	Timestamp time.Time
}

// EventLogger writes listener events.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

func WithEventLogger(lg *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = lg }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Errors are logged, not returned, so a
// failing store never blocks the caller.
func (l *EventLogger) LogEvent(ctx context.Context, ev ListenerEvent) {
	if ev.EventID == "" {
		ev.EventID = l.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO listener_events (event_id, event_type, endpoint, detail, timestamp)
		VALUES (?,?,?,?,?)`,
		ev.EventID, ev.EventType, ev.Endpoint, ev.Detail, ev.Timestamp.UnixMilli())
	if err != nil {
		l.logger.Error("listener event log failed", "error", err, "event_type", ev.EventType)
	}
}

// Availability returns a Monitor OnChange callback that records online and
// offline transitions for endpoint.
func (l *EventLogger) Availability(endpoint string) func(online bool) {
	return func(online bool) {
		typ := EventOffline
		if online {
			typ = EventOnline
		}
		l.LogEvent(context.Background(), ListenerEvent{EventType: typ, Endpoint: endpoint})
	}
}

// Recent returns the newest events first.
func (l *EventLogger) Recent(ctx context.Context, limit int) ([]ListenerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, event_type, endpoint, detail, timestamp
		FROM listener_events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query listener events: %w", err)
	}
	defer rows.Close()

	var out []ListenerEvent
	for rows.Next() {
		var ev ListenerEvent
		var endpoint, detail sql.NullString
		var ts int64
		if err := rows.Scan(&ev.EventID, &ev.EventType, &endpoint, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan listener event: %w", err)
		}
		ev.Endpoint = endpoint.String
		ev.Detail = detail.String
		ev.Timestamp = time.UnixMilli(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	AuditDays      int
	EventDays      int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()

	// Table names are never taken from input.
	targets := []struct {
		table string
		days  int
	}{
		{"command_audit", cfg.AuditDays},
		{"listener_events", cfg.EventDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).UnixMilli()
		q := fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", t.table)
		if _, err := dbopen.Exec(ctx, db, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
