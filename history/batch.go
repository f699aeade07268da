package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/uemcp/editorbridge"
)

// Executor sends a command to the editor. *editorbridge.Bridge implements it.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd editorbridge.Command) (*editorbridge.Response, error)
}

// Step is one item of a batch.
type Step struct {
	OperationID string `json:"operationId"`
	ToolName    string `json:"toolName"`
	Description string `json:"description"`
	Command     string `json:"command,omitempty"`
	OK          bool   `json:"ok"`
	Message     string `json:"message"`
}

// BatchReport is the itemized result of Undo or Redo.
type BatchReport struct {
	Action    string `json:"action"`
	Requested int    `json:"requested"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Steps     []Step `json:"steps"`
	// Halted is set when a step failed and the rest of the batch was skipped.
	Halted bool `json:"halted"`
	// Reason explains why the batch stopped early, if it did.
	Reason string `json:"reason,omitempty"`
	Status Status `json:"status"`

	err error
}

// Err returns the error that halted the batch, or nil.
func (r *BatchReport) Err() error { return r.err }

// Summary renders "Undo: 2 succeeded, 1 failed" followed by one line per step.
func (r *BatchReport) Summary() string {
	var sb strings.Builder
	title := strings.ToUpper(r.Action[:1]) + r.Action[1:]
	if len(r.Steps) == 0 {
		fmt.Fprintf(&sb, "%s: %s", title, r.Reason)
		return sb.String()
	}
	fmt.Fprintf(&sb, "%s: %d succeeded, %d failed", title, r.Succeeded, r.Failed)
	for _, s := range r.Steps {
		mark := "ok"
		if !s.OK {
			mark = "FAILED"
		}
		fmt.Fprintf(&sb, "\n  [%s] %s (%s): %s", mark, s.Description, s.ToolName, s.Message)
	}
	if r.Reason != "" {
		fmt.Fprintf(&sb, "\nStopped: %s", r.Reason)
	}
	fmt.Fprintf(&sb, "\nHistory: %d/%d", r.Status.CurrentIndex+1, r.Status.TotalOperations)
	return sb.String()
}

func (r *BatchReport) fail(step Step, err error) {
	step.OK = false
	step.Message = err.Error()
	r.Steps = append(r.Steps, step)
	r.Failed++
	r.Halted = true
	r.Reason = err.Error()
	r.err = err
}

func stepFor(rec OperationRecord) Step {
	return Step{OperationID: rec.ID, ToolName: rec.ToolName, Description: rec.Description}
}

// Undo reverses up to count operations, newest first. It stops at the
// first step that cannot be reversed or whose inverse fails, leaving the
// cursor after the last successful step. Running out of history is not a
// failure. Callers that record concurrently must serialise with Undo.
func Undo(ctx context.Context, l *Ledger, exec Executor, count int) *BatchReport {
	if count < 1 {
		count = 1
	}
	r := &BatchReport{Action: "undo", Requested: count}
	defer func() { r.Status = l.Status() }()

	for i := 0; i < count; i++ {
		rec, ok := l.Undoable()
		if !ok {
			if i == 0 {
				r.Reason = ErrNothingToUndo.Error()
			}
			return r
		}
		step := stepFor(rec)

		cmd, err := Inverse(rec.UndoData)
		if err != nil {
			r.fail(step, err)
			return r
		}
		step.Command = cmd.Type

		if err := run(ctx, exec, cmd); err != nil {
			r.fail(step, err)
			return r
		}
		if !l.markUndoneIf(rec.ID) {
			r.fail(step, errors.New("history: ledger changed during undo"))
			return r
		}
		step.OK = true
		step.Message = "undone"
		r.Steps = append(r.Steps, step)
		r.Succeeded++
	}
	return r
}

// Redo re-executes up to count undone operations with their original
// forward commands, oldest first, with the same halting rule as Undo.
func Redo(ctx context.Context, l *Ledger, exec Executor, count int) *BatchReport {
	if count < 1 {
		count = 1
	}
	r := &BatchReport{Action: "redo", Requested: count}
	defer func() { r.Status = l.Status() }()

	for i := 0; i < count; i++ {
		rec, ok := l.Redoable()
		if !ok {
			if i == 0 {
				r.Reason = ErrNothingToRedo.Error()
			}
			return r
		}
		step := stepFor(rec)

		if rec.Redo.Type == "" {
			r.fail(step, fmt.Errorf("history: %s recorded no forward command", rec.ToolName))
			return r
		}
		step.Command = rec.Redo.Type

		if err := run(ctx, exec, rec.Redo); err != nil {
			r.fail(step, err)
			return r
		}
		if !l.markRedoneIf(rec.ID) {
			r.fail(step, errors.New("history: ledger changed during redo"))
			return r
		}
		step.OK = true
		step.Message = "redone"
		r.Steps = append(r.Steps, step)
		r.Succeeded++
	}
	return r
}

func run(ctx context.Context, exec Executor, cmd editorbridge.Command) error {
	resp, err := exec.ExecuteCommand(ctx, cmd)
	if err != nil {
		return err
	}
	return resp.Err()
}
