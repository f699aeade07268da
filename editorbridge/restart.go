package editorbridge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// RestartState is the position in the two-phase restart handshake.
//
//	Stopping -> (Wait, Trigger) -> Restarting -> (AwaitReady) -> Ready | Failed
//
// The listener cannot rebuild itself from inside a command it is running,
// so system.restart only stops it. Bringing it back is a separate,
// out-of-band action.
type RestartState int

const (
	RestartStopping RestartState = iota
	RestartRestarting
	RestartReady
	RestartFailed
)

func (s RestartState) String() string {
	switch s {
	case RestartStopping:
		return "stopping"
	case RestartRestarting:
		return "restarting"
	case RestartReady:
		return "ready"
	case RestartFailed:
		return "failed"
	}
	return fmt.Sprintf("RestartState(%d)", int(s))
}

// RestartTrigger performs phase two of a restart outside of any command.
type RestartTrigger interface {
	Trigger(ctx context.Context) error
}

// FuncTrigger adapts a function to RestartTrigger.
type FuncTrigger func(ctx context.Context) error

func (f FuncTrigger) Trigger(ctx context.Context) error { return f(ctx) }

// CommandTrigger runs an operator-supplied program, e.g. a script that
// asks the editor to reload the listener plugin.
func CommandTrigger(name string, args ...string) RestartTrigger {
	return FuncTrigger(func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("editorbridge: restart command %s: %w: %s", name, err, strings.TrimSpace(string(out)))
		}
		return nil
	})
}

// ParseCommandTrigger splits a shell-like command line on whitespace.
// It returns nil for an empty line.
func ParseCommandTrigger(line string) RestartTrigger {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	return CommandTrigger(fields[0], fields[1:]...)
}

// RestartHandle tracks one restart handshake.
type RestartHandle struct {
	b *Bridge

	mu     sync.Mutex
	state  RestartState
	waited bool
	force  bool
	// Stop is the listener's answer to system.restart.
	Stop *Response
}

// Restart runs phase one: system.restart {force}. On success the
// listener is stopping and the handle is in RestartStopping.
func (b *Bridge) Restart(ctx context.Context, force bool) (*RestartHandle, error) {
	resp, err := b.ExecuteCommand(ctx, NewCommand(CmdSystemRestart, map[string]any{"force": force}))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "listener stopping", "force", force)
	return &RestartHandle{b: b, state: RestartStopping, force: force, Stop: resp}, nil
}

// State returns the current handshake state.
func (h *RestartHandle) State() RestartState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait pauses for the configured interval so the listener finishes
// tearing down before phase two.
func (h *RestartHandle) Wait(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != RestartStopping {
		return fmt.Errorf("editorbridge: wait in state %s: %w", h.state, ErrRestartPhase)
	}
	if err := h.b.sleep(ctx, h.b.restartWait); err != nil {
		return fmt.Errorf("editorbridge: restart wait: %w", err)
	}
	h.waited = true
	return nil
}

// Trigger runs phase two through the configured RestartTrigger. It never
// goes through ExecuteCommand. Without a trigger it returns
// ErrNoRestartTrigger and leaves the handle in RestartStopping; after a
// manual restart, call MarkTriggered then AwaitReady.
func (h *RestartHandle) Trigger(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != RestartStopping || !h.waited {
		return fmt.Errorf("editorbridge: trigger in state %s (waited=%t): %w", h.state, h.waited, ErrRestartPhase)
	}
	if h.b.trigger == nil {
		return ErrNoRestartTrigger
	}
	if err := h.b.trigger.Trigger(ctx); err != nil {
		h.state = RestartFailed
		return fmt.Errorf("editorbridge: restart trigger: %w", err)
	}
	h.state = RestartRestarting
	h.b.logger.InfoContext(ctx, "listener restart triggered")
	return nil
}

// MarkTriggered records that phase two happened outside this process
// (an operator restarted the listener by hand).
func (h *RestartHandle) MarkTriggered() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != RestartStopping {
		return fmt.Errorf("editorbridge: mark triggered in state %s: %w", h.state, ErrRestartPhase)
	}
	h.state = RestartRestarting
	return nil
}

// AwaitReady polls the listener until it answers or the ready timeout
// passes.
func (h *RestartHandle) AwaitReady(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != RestartRestarting {
		return fmt.Errorf("editorbridge: await ready in state %s: %w", h.state, ErrRestartPhase)
	}

	polls := 1
	if h.b.pollInterval > 0 {
		polls = int(h.b.readyTimeout/h.b.pollInterval) + 1
	}
	for i := 0; i < polls; i++ {
		if h.b.IsRemoteAvailable(ctx) {
			h.state = RestartReady
			h.b.logger.InfoContext(ctx, "listener ready after restart", "polls", i+1)
			return nil
		}
		if i == polls-1 {
			break
		}
		if err := h.b.sleep(ctx, h.b.pollInterval); err != nil {
			h.state = RestartFailed
			return fmt.Errorf("editorbridge: await ready: %w", err)
		}
	}
	h.state = RestartFailed
	return &OfflineError{
		Endpoint: h.b.endpoint,
		Cause:    fmt.Errorf("not ready %s after restart", h.b.readyTimeout),
	}
}

// Complete runs Wait, Trigger and AwaitReady in order.
func (h *RestartHandle) Complete(ctx context.Context) error {
	if err := h.Wait(ctx); err != nil {
		return err
	}
	if err := h.Trigger(ctx); err != nil {
		return err
	}
	return h.AwaitReady(ctx)
}
