package editorbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, cmd Command) ([]byte, error)
	probe  func(ctx context.Context) ([]byte, error)
	sent   []Command
}

func (f *fakeChannel) Send(ctx context.Context, payload []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	fn := f.sendFn
	f.mu.Unlock()
	if fn == nil {
		return []byte(`{"success":true}`), nil
	}
	return fn(ctx, cmd)
}

func (f *fakeChannel) Probe(ctx context.Context) ([]byte, error) {
	if f.probe == nil {
		return []byte(`{"status":"online","ready":true}`), nil
	}
	return f.probe(ctx)
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, ch Channel, opts ...Option) *Bridge {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithClock((&sleepRecorder{}).sleep)}
	return New(ch, append(base, opts...)...)
}

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
