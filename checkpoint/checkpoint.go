// Package checkpoint keeps named full-level snapshots for coarse restore.
//
// A checkpoint is not an undo step. Restoring one replaces the level
// wholesale, which leaves any per-operation history recorded since in an
// undefined relation to the editor state; the Manager's Policy decides
// what happens to the ledger.
package checkpoint

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/history"
	"github.com/hazyhaar/uemcp/horosafe"
)

// ErrNotFound is returned for an unknown checkpoint name.
var ErrNotFound = errors.New("checkpoint: not found")

// Policy is what Restore does to the operation ledger.
type Policy int

const (
	// ClearLedger empties the ledger after a restore.
	ClearLedger Policy = iota
	// KeepLedger leaves the ledger untouched. Undo after a restore may
	// then target actors the snapshot no longer has.
	KeepLedger
)

func (p Policy) String() string {
	switch p {
	case ClearLedger:
		return "clear"
	case KeepLedger:
		return "keep"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "clear" or "keep".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "clear", "":
		return ClearLedger, nil
	case "keep":
		return KeepLedger, nil
	}
	return 0, fmt.Errorf("checkpoint: unknown policy %q", s)
}

// Checkpoint is a named snapshot of the level.
type Checkpoint struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Snapshot    json.RawMessage `json:"-"`
	// LedgerIndex is the ledger cursor when the checkpoint was taken.
	LedgerIndex int `json:"ledgerIndex"`
}

// Manager holds checkpoints in memory. Safe for concurrent use.
type Manager struct {
	exec   history.Executor
	ledger *history.Ledger
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	points map[string]Checkpoint
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the ledger policy applied after Restore.
func WithPolicy(p Policy) Option { return func(m *Manager) { m.policy = p } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithNow(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

// New creates a Manager. ledger may be nil, in which case the policy has
// nothing to act on.
func New(exec history.Executor, ledger *history.Ledger, opts ...Option) *Manager {
	m := &Manager{
		exec:   exec,
		ledger: ledger,
		policy: ClearLedger,
		logger: slog.Default(),
		now:    time.Now,
		points: make(map[string]Checkpoint),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Policy returns the configured restore policy.
func (m *Manager) Policy() Policy { return m.policy }

// Create captures the level under name. An existing checkpoint with the
// same name is replaced.
func (m *Manager) Create(ctx context.Context, name, description string) (Checkpoint, error) {
	if err := horosafe.ValidateIdentifier(name); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: name: %w", err)
	}
	resp, err := m.exec.ExecuteCommand(ctx, editorbridge.NewCommand(editorbridge.CmdLevelSnapshot, map[string]any{"name": name}))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: snapshot %s: %w", name, err)
	}
	if err := resp.Err(); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: snapshot %s: %w", name, err)
	}
	snap, ok := resp.Raw("snapshot")
	if !ok {
		return Checkpoint{}, fmt.Errorf("checkpoint: snapshot %s: %w: no snapshot field", name, editorbridge.ErrMalformedResponse)
	}

	cp := Checkpoint{
		Name:        name,
		Description: description,
		Timestamp:   m.now(),
		Snapshot:    slices.Clone(snap),
		LedgerIndex: -1,
	}
	if m.ledger != nil {
		cp.LedgerIndex = m.ledger.Status().CurrentIndex
	}

	m.mu.Lock()
	_, replaced := m.points[name]
	m.points[name] = cp
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "checkpoint created", "name", name, "replaced", replaced, "bytes", len(snap))
	return cp, nil
}

// Restore applies the named snapshot, then the ledger policy. The ledger
// is only touched when the editor confirmed the restore.
func (m *Manager) Restore(ctx context.Context, name string) (Checkpoint, error) {
	cp, err := m.Get(name)
	if err != nil {
		return Checkpoint{}, err
	}
	resp, err := m.exec.ExecuteCommand(ctx, editorbridge.NewCommand(editorbridge.CmdLevelRestore, map[string]any{
		"name":     name,
		"snapshot": cp.Snapshot,
	}))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: restore %s: %w", name, err)
	}
	if err := resp.Err(); err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: restore %s: %w", name, err)
	}

	if m.ledger != nil && m.policy == ClearLedger {
		m.ledger.Clear()
	}
	m.logger.InfoContext(ctx, "checkpoint restored", "name", name, "policy", m.policy.String())
	return cp, nil
}

// Get returns one checkpoint.
func (m *Manager) Get(name string) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.points[name]
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cp, nil
}

// List returns all checkpoints, oldest first.
func (m *Manager) List() []Checkpoint {
	m.mu.Lock()
	out := make([]Checkpoint, 0, len(m.points))
	for _, cp := range m.points {
		out = append(out, cp)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Checkpoint) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Delete removes a checkpoint.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.points, name)
	return nil
}
