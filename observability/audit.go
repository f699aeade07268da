// Package observability keeps a SQLite record of what was sent to the
// editor: one audit row per bridge call and a log of listener
// availability transitions and restart phases.
//
// Audit writes are asynchronous and batched. A full buffer falls back to a
// synchronous insert rather than dropping the entry.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/uemcp/dbopen"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/idgen"
)

// Audit statuses.
const (
	StatusSuccess     = "success"
	StatusRemoteError = "remote_error"
	StatusTimeout     = "timeout"
	StatusOffline     = "offline"
	StatusThrottled   = "throttled"
	StatusError       = "error"
)

// AuditEntry is one command sent to the editor.
type AuditEntry struct {
	EntryID     string
	Timestamp   time.Time
	CommandType string

	RequestID string
	SessionID string
	ToolName  string

	Params       string // JSON
	Result       string // JSON
	Status       string
	Attempts     int
	ErrorMessage string
	DurationMs   int64
}

// AuditFilter controls query results from the audit log.
type AuditFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	CommandType *string
	Status      *string
	RequestID   *string
	Limit       int // default 100
	Offset      int
	OrderBy     string // "timestamp" or "duration_ms"
	OrderDir    string // "ASC" or "DESC"
}

// AuditLogger persists command audit entries asynchronously.
type AuditLogger struct {
	db            *sql.DB
	newID         idgen.Generator
	logger        *slog.Logger
	flushInterval time.Duration
	ch            chan *AuditEntry
	stop          chan struct{}
	done          chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets a custom ID generator for audit entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// WithFlushInterval sets how often queued entries are written. Default 5s.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(a *AuditLogger) { a.flushInterval = d }
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:            db,
		newID:         idgen.Prefixed("aud_", idgen.Default),
		logger:        slog.Default(),
		flushInterval: 5 * time.Second,
		ch:            make(chan *AuditEntry, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// Log inserts an audit entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, entry)
}

// LogAsync queues an entry for async persistence.
// Falls back to synchronous insert if the buffer is full.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		a.logger.Warn("audit buffer full, sync fallback", "command", entry.CommandType)
		if err := a.insert(context.Background(), entry); err != nil {
			a.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// ObserveCall queues an entry for a finished bridge call. It has the
// signature editorbridge.WithCallObserver expects.
func (a *AuditLogger) ObserveCall(tr editorbridge.CallTrace) {
	a.LogAsync(EntryFromTrace(tr))
}

// EntryFromTrace converts a call trace into an audit entry.
func EntryFromTrace(tr editorbridge.CallTrace) *AuditEntry {
	e := &AuditEntry{
		EntryID:     tr.ID,
		Timestamp:   tr.Started,
		CommandType: tr.Command.Type,
		RequestID:   tr.RequestID,
		SessionID:   tr.SessionID,
		ToolName:    tr.Tool,
		Attempts:    tr.Attempts,
		DurationMs:  tr.Duration.Milliseconds(),
	}
	if b, err := json.Marshal(tr.Command.Params); err == nil && tr.Command.Params != nil {
		e.Params = string(b)
	}
	if tr.Response != nil {
		if b, err := json.Marshal(tr.Response); err == nil {
			e.Result = string(b)
		}
	}
	e.Status = ClassifyStatus(tr.Response, tr.Err)
	switch {
	case tr.Err != nil:
		e.ErrorMessage = tr.Err.Error()
	case tr.Response != nil && !tr.Response.Success:
		e.ErrorMessage = tr.Response.Err().Error()
	}
	return e
}

// ClassifyStatus maps a bridge outcome onto an audit status.
func ClassifyStatus(resp *editorbridge.Response, err error) string {
	switch {
	case err == nil && resp != nil && resp.Success:
		return StatusSuccess
	case err == nil && resp != nil:
		return StatusRemoteError
	case editorbridge.IsTimeout(err):
		return StatusTimeout
	case editorbridge.IsOffline(err):
		return StatusOffline
	case editorbridge.IsThrottled(err):
		return StatusThrottled
	}
	return StatusError
}

// Query retrieves audit entries matching the given filter.
func (a *AuditLogger) Query(ctx context.Context, f *AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, command_type, request_id, session_id, tool_name,
		params, result, status, attempts, error_message, duration_ms
		FROM command_audit WHERE 1=1`
	var args []any

	if f.StartTime != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.StartTime.UnixMilli())
	}
	if f.EndTime != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.EndTime.UnixMilli())
	}
	if f.CommandType != nil {
		q += " AND command_type = ?"
		args = append(args, *f.CommandType)
	}
	if f.Status != nil {
		q += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.RequestID != nil {
		q += " AND request_id = ?"
		args = append(args, *f.RequestID)
	}

	orderBy := "timestamp"
	if f.OrderBy != "" {
		switch f.OrderBy {
		case "timestamp", "duration_ms", "command_type", "status":
			orderBy = f.OrderBy
		default:
			return nil, fmt.Errorf("invalid order_by column: %q", f.OrderBy)
		}
	}
	orderDir := "DESC"
	if f.OrderDir != "" {
		switch strings.ToUpper(f.OrderDir) {
		case "ASC", "DESC":
			orderDir = strings.ToUpper(f.OrderDir)
		default:
			return nil, fmt.Errorf("invalid order_dir: %q", f.OrderDir)
		}
	}
	q += fmt.Sprintf(" ORDER BY %s %s, rowid %s", orderBy, orderDir, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var requestID, sessionID, toolName, result, errorMessage sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&e.EntryID, &ts, &e.CommandType, &requestID, &sessionID, &toolName,
			&e.Params, &result, &e.Status, &e.Attempts, &errorMessage, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.Timestamp = time.UnixMilli(ts)
		e.RequestID = requestID.String
		e.SessionID = sessionID.String
		e.ToolName = toolName.String
		e.Result = result.String
		e.ErrorMessage = errorMessage.String
		e.DurationMs = durationMs.Int64
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes audit entries older than retentionDays.
func (a *AuditLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	result, err := dbopen.Exec(ctx, a.db, "DELETE FROM command_audit WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	return result.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Params == "" {
		e.Params = "{}"
	}
	if e.Attempts == 0 {
		e.Attempts = 1
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

const insertAudit = `INSERT INTO command_audit
	(entry_id, timestamp, command_type, request_id, session_id, tool_name,
	 params, result, status, attempts, error_message, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

func auditArgs(e *AuditEntry) []any {
	return []any{
		e.EntryID, e.Timestamp.UnixMilli(), e.CommandType, e.RequestID, e.SessionID, e.ToolName,
		e.Params, e.Result, e.Status, e.Attempts, e.ErrorMessage, e.DurationMs,
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := dbopen.RunTx(ctx, a.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertAudit)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, e := range batch {
				if _, err := stmt.ExecContext(ctx, auditArgs(e)...); err != nil {
					a.logger.Error("audit: insert", "error", err, "entry_id", e.EntryID)
				}
			}
			return nil
		})
		if err != nil {
			a.logger.Error("audit: flush", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := dbopen.Exec(ctx, a.db, insertAudit, auditArgs(e)...)
	return err
}
