package editorbridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_ReportsOnlyTransitions(t *testing.T) {
	var up atomic.Bool
	ch := &fakeChannel{probe: func(ctx context.Context) ([]byte, error) {
		if up.Load() {
			return []byte(`{"status":"online"}`), nil
		}
		return nil, errors.New("connection refused")
	}}
	b := newTestBridge(t, ch)

	var mu sync.Mutex
	var changes []bool
	m := NewMonitor(b, OnChange(func(online bool) {
		mu.Lock()
		changes = append(changes, online)
		mu.Unlock()
	}))
	ctx := context.Background()

	m.Check(ctx) // unknown -> offline
	m.Check(ctx)
	up.Store(true)
	m.Check(ctx) // offline -> online
	m.Check(ctx)
	m.Check(ctx)
	up.Store(false)
	m.Check(ctx) // online -> offline

	want := []bool{false, true, false}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", changes, want)
		}
	}
	if m.Online() {
		t.Fatal("Online() should be false")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	var probes int32
	ch := &fakeChannel{probe: func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&probes, 1)
		return []byte(`{}`), nil
	}}
	b := newTestBridge(t, ch)
	online := make(chan bool, 4)
	m := NewMonitor(b, WithInterval(10*time.Millisecond), OnChange(func(v bool) { online <- v }))

	m.Start(context.Background())
	select {
	case v := <-online:
		if !v {
			t.Fatal("expected online")
		}
	case <-time.After(time.Second):
		t.Fatal("monitor never reported")
	}
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	n := atomic.LoadInt32(&probes)
	if n < 2 {
		t.Fatalf("probes = %d, want periodic probing", n)
	}
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&probes) != n {
		t.Fatal("monitor kept probing after Stop")
	}
	m.Stop()
}
