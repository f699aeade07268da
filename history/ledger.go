package history

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/idgen"
)

// OperationRecord is one executed operation. UndoData nil means the
// operation cannot be reversed; Redo is the original forward command.
type OperationRecord struct {
	ID          string
	ToolName    string
	Description string
	Timestamp   time.Time
	UndoData    UndoData
	Redo        editorbridge.Command
}

// Undoable reports whether the record carries an invertible kind.
func (r OperationRecord) Undoable() bool {
	u := concrete(r.UndoData)
	if u == nil {
		return false
	}
	k := u.Kind()
	return k != KindLevelSave && k != KindCustom
}

func (r OperationRecord) MarshalJSON() ([]byte, error) {
	undo, err := MarshalUndoData(r.UndoData)
	if err != nil {
		return nil, err
	}
	out := struct {
		ID          string                `json:"id"`
		ToolName    string                `json:"toolName"`
		Description string                `json:"description"`
		Timestamp   time.Time             `json:"timestamp"`
		UndoData    json.RawMessage       `json:"undoData"`
		Redo        *editorbridge.Command `json:"redo,omitempty"`
	}{
		ID:          r.ID,
		ToolName:    r.ToolName,
		Description: r.Description,
		Timestamp:   r.Timestamp,
		UndoData:    undo,
	}
	if r.Redo.Type != "" {
		out.Redo = &r.Redo
	}
	return json.Marshal(out)
}

// Status is the ledger position.
type Status struct {
	CurrentIndex    int  `json:"currentIndex"`
	TotalOperations int  `json:"totalOperations"`
	CanUndo         bool `json:"canUndo"`
	CanRedo         bool `json:"canRedo"`
}

// Ledger is the linear undo/redo history. Entries at or before the cursor
// are done, entries after it are undone. The cursor stays within
// [-1, len-1]. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []OperationRecord
	cursor  int

	max    int
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMaxEntries caps the ledger; the oldest records are dropped first.
// Zero means unbounded.
func WithMaxEntries(n int) LedgerOption { return func(l *Ledger) { l.max = n } }

func WithLogger(lg *slog.Logger) LedgerOption { return func(l *Ledger) { l.logger = lg } }

// WithIDGenerator sets the generator used for records recorded without an ID.
func WithIDGenerator(g idgen.Generator) LedgerOption { return func(l *Ledger) { l.newID = g } }

// WithNow sets the clock used for records recorded without a timestamp.
func WithNow(fn func() time.Time) LedgerOption { return func(l *Ledger) { l.now = fn } }

// NewLedger creates an empty ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		cursor: -1,
		logger: slog.Default(),
		newID:  idgen.Prefixed("op_", idgen.Default),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends rec after discarding every undone entry, and moves the
// cursor onto it. Missing ID and Timestamp are filled in.
func (l *Ledger) Record(rec OperationRecord) OperationRecord {
	rec.UndoData = concrete(rec.UndoData)
	if rec.ID == "" {
		rec.ID = l.newID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dropped := len(l.entries) - (l.cursor + 1); dropped > 0 {
		l.logger.Debug("redo history discarded", "entries", dropped)
	}
	l.entries = append(l.entries[:l.cursor+1], rec)
	l.cursor = len(l.entries) - 1

	if l.max > 0 && len(l.entries) > l.max {
		over := len(l.entries) - l.max
		l.entries = append([]OperationRecord(nil), l.entries[over:]...)
		l.cursor -= over
	}
	return rec
}

// Undoable returns the record at the cursor.
func (l *Ledger) Undoable() (OperationRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor < 0 {
		return OperationRecord{}, false
	}
	return l.entries[l.cursor], true
}

// MarkUndone moves the cursor back one step. It reports false at the
// lower bound.
func (l *Ledger) MarkUndone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor < 0 {
		return false
	}
	l.cursor--
	return true
}

// Redoable returns the record just after the cursor.
func (l *Ledger) Redoable() (OperationRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor+1 >= len(l.entries) {
		return OperationRecord{}, false
	}
	return l.entries[l.cursor+1], true
}

// MarkRedone moves the cursor forward one step. It reports false at the
// upper bound.
func (l *Ledger) MarkRedone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor+1 >= len(l.entries) {
		return false
	}
	l.cursor++
	return true
}

// markUndoneIf moves the cursor back only if it still points at id.
func (l *Ledger) markUndoneIf(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor < 0 || l.entries[l.cursor].ID != id {
		return false
	}
	l.cursor--
	return true
}

// markRedoneIf moves the cursor forward only if the next entry is id.
func (l *Ledger) markRedoneIf(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor+1 >= len(l.entries) || l.entries[l.cursor+1].ID != id {
		return false
	}
	l.cursor++
	return true
}

func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		CurrentIndex:    l.cursor,
		TotalOperations: len(l.entries),
		CanUndo:         l.cursor >= 0,
		CanRedo:         l.cursor+1 < len(l.entries),
	}
}

// Entries returns a copy of all records, oldest first.
func (l *Ledger) Entries() []OperationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]OperationRecord(nil), l.entries...)
}

// Clear drops every record and resets the cursor.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.cursor = -1
}
