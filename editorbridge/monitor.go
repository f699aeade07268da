package editorbridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor probes the listener on a ticker and reports connectivity
// transitions without blocking anyone. The first observation counts as a
// transition from unknown.
type Monitor struct {
	b        *Bridge
	interval time.Duration
	onChange func(online bool)
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	known  bool
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the probe period. Default 5s.
func WithInterval(d time.Duration) MonitorOption { return func(m *Monitor) { m.interval = d } }

// OnChange is called from the monitor goroutine on every transition.
func OnChange(fn func(online bool)) MonitorOption { return func(m *Monitor) { m.onChange = fn } }

func WithMonitorLogger(l *slog.Logger) MonitorOption { return func(m *Monitor) { m.logger = l } }

// NewMonitor creates a stopped Monitor.
func NewMonitor(b *Bridge, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		b:        b,
		interval: 5 * time.Second,
		logger:   b.logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches the probe loop. It probes once immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Online reports the last observed state (false before the first probe).
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once and fires OnChange on a transition. It returns the
// observed state.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.b.IsRemoteAvailable(ctx)
	if ctx.Err() != nil {
		return online
	}

	m.mu.Lock()
	changed := !m.known || online != m.online
	m.online, m.known = online, true
	m.mu.Unlock()

	if !changed {
		return online
	}
	if online {
		m.logger.Info("listener online")
	} else {
		m.logger.Warn("listener offline")
	}
	if m.onChange != nil {
		m.onChange(online)
	}
	return online
}
