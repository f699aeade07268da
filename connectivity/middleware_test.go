package connectivity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var errThrottle = errors.New("throttled")

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, payload []byte) ([]byte, error) {
				order = append(order, name+"-before")
				resp, err := next(ctx, payload)
				order = append(order, name+"-after")
				return resp, err
			}
		}
	}
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	}

	Chain(mw("mw1"), mw("mw2"))(base)(context.Background(), nil)

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("got %v, want %v", order, expected)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("at index %d: got %q, want %q", i, order[i], v)
		}
	}
}

func TestRecovery(t *testing.T) {
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("boom")
	}
	_, err := Recovery(slog.Default())(base)(context.Background(), nil)
	var ep *ErrPanic
	if !errors.As(err, &ep) {
		t.Fatalf("expected ErrPanic, got %T: %v", err, err)
	}
	if ep.Value != "boom" {
		t.Fatalf("panic value = %v, want boom", ep.Value)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ok := func(ctx context.Context, payload []byte) ([]byte, error) { return []byte("pong"), nil }
	if _, err := Logging(logger, "editor")(ok)(context.Background(), []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "call ok") || !strings.Contains(out, "service=editor") ||
		!strings.Contains(out, "response_bytes=4") {
		t.Fatalf("success log = %q", out)
	}

	buf.Reset()
	fail := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, errors.New("refused") }
	if _, err := Logging(logger, "editor.status")(fail)(context.Background(), nil); err == nil {
		t.Fatal("error swallowed")
	}
	if out := buf.String(); !strings.Contains(out, "level=WARN") || !strings.Contains(out, "error=refused") {
		t.Fatalf("failure log = %q", out)
	}
}

func TestTimeout(t *testing.T) {
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := Timeout(10*time.Millisecond)(base)(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Max: 350 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errThrottle
		}
		return []byte("ok"), nil
	}

	var retries []int
	policy := RetryPolicy{
		MaxRetries: 3,
		Base:       time.Millisecond,
		Sleep:      noSleep,
		OnRetry:    func(ctx context.Context, n int, err error, wait time.Duration) { retries = append(retries, n) },
	}
	resp, err := WithRetry(policy, nil)(base)(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if string(resp) != "ok" {
		t.Fatalf("got %q", resp)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("OnRetry calls = %v, want [1 2]", retries)
	}
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		attempts++
		return nil, errors.New("connection refused")
	}
	policy := RetryPolicy{
		MaxRetries: 5,
		Sleep:      noSleep,
		Retryable:  func(err error) bool { return errors.Is(err, errThrottle) },
	}
	if _, err := WithRetry(policy, nil)(base)(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetry_Exhausted(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		attempts++
		return nil, errThrottle
	}
	policy := RetryPolicy{MaxRetries: 2, Sleep: noSleep}
	_, err := WithRetry(policy, nil)(base)(context.Background(), nil)
	if !errors.Is(err, errThrottle) {
		t.Fatalf("got %v, want last error", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		attempts++
		cancel()
		return nil, errThrottle
	}
	if _, err := WithRetry(RetryPolicy{MaxRetries: 5, Base: time.Millisecond}, nil)(base)(ctx, nil); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt (context cancelled), got %d", attempts)
	}
}

func TestWithRetry_CircuitOpenNotRetried(t *testing.T) {
	attempts := 0
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		attempts++
		return nil, &ErrCircuitOpen{Service: ServiceEditor}
	}
	WithRetry(RetryPolicy{MaxRetries: 3, Sleep: noSleep}, nil)(base)(context.Background(), nil)
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(func() time.Time { return now }),
	)

	if cb.State() != BreakerClosed {
		t.Fatal("expected closed")
	}
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}

	now = now.Add(200 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open after reset timeout")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after success in half-open")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(func() time.Time { return now }),
	)

	cb.RecordFailure()
	now = now.Add(100 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected re-open after failure in half-open")
	}
	if cb.State().String() != "open" {
		t.Fatalf("String() = %q", cb.State().String())
	}
}

func TestWithCircuitBreaker_Middleware(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("fail")
	}
	wrapped := WithCircuitBreaker(cb, ServiceEditor, nil)(base)

	if _, err := wrapped(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	_, err := wrapped(context.Background(), nil)
	var eco *ErrCircuitOpen
	if !errors.As(err, &eco) {
		t.Fatalf("expected ErrCircuitOpen, got %T: %v", err, err)
	}
}

func TestWithCircuitBreaker_CountsPredicate(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, &ErrHTTPStatus{Code: 500}
	}
	offlineOnly := func(err error) bool {
		var st *ErrHTTPStatus
		return !errors.As(err, &st)
	}
	wrapped := WithCircuitBreaker(cb, ServiceEditor, offlineOnly)(base)

	for i := 0; i < 3; i++ {
		wrapped(context.Background(), nil)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("breaker = %v, want closed: status errors must not count", cb.State())
	}
}
