package editorbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/idgen"
	"github.com/hazyhaar/uemcp/kit"
)

// Bridge is the command dispatch bridge. It is safe for concurrent use;
// commands are serialised so the listener never sees two at once, probes
// are not.
type Bridge struct {
	// slot holds the one outstanding command; waiting for it honours ctx.
	slot chan struct{}

	ch             Channel
	endpoint       string
	logger         *slog.Logger
	commandTimeout time.Duration
	probeTimeout   time.Duration
	backoff        BackoffPolicy
	breaker        *connectivity.CircuitBreaker
	observer       func(CallTrace)
	trigger        RestartTrigger
	restartWait    time.Duration
	readyTimeout   time.Duration
	pollInterval   time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
	newID          idgen.Generator
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithEndpoint names the listener in offline messages.
func WithEndpoint(endpoint string) Option { return func(b *Bridge) { b.endpoint = endpoint } }

// WithCommandTimeout bounds each attempt of a command. Default 30s.
func WithCommandTimeout(d time.Duration) Option { return func(b *Bridge) { b.commandTimeout = d } }

// WithProbeTimeout bounds availability probes. Default 3s.
func WithProbeTimeout(d time.Duration) Option { return func(b *Bridge) { b.probeTimeout = d } }

func WithBackoff(p BackoffPolicy) Option { return func(b *Bridge) { b.backoff = p } }

// WithBreaker fails commands fast while the listener is known to be down.
// Only connection failures count against it; a successful probe resets it.
func WithBreaker(cb *connectivity.CircuitBreaker) Option { return func(b *Bridge) { b.breaker = cb } }

// WithCallObserver receives the trace of every finished command.
func WithCallObserver(fn func(CallTrace)) Option { return func(b *Bridge) { b.observer = fn } }

// WithRestartTrigger sets the out-of-band action that brings the listener
// back after system.restart stopped it.
func WithRestartTrigger(t RestartTrigger) Option { return func(b *Bridge) { b.trigger = t } }

// WithRestartWait sets the pause between the stop and the trigger. Default 2s.
func WithRestartWait(d time.Duration) Option { return func(b *Bridge) { b.restartWait = d } }

// WithReadyTimeout bounds how long AwaitReady polls. Default 30s.
func WithReadyTimeout(d time.Duration) Option { return func(b *Bridge) { b.readyTimeout = d } }

// WithClock replaces the wait used for backoff and restart pauses.
func WithClock(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bridge) { b.sleep = sleep }
}

// WithIDGenerator sets the generator for call trace IDs.
func WithIDGenerator(g idgen.Generator) Option { return func(b *Bridge) { b.newID = g } }

// New creates a Bridge over ch.
func New(ch Channel, opts ...Option) *Bridge {
	b := &Bridge{
		slot:           make(chan struct{}, 1),
		ch:             ch,
		logger:         slog.Default(),
		commandTimeout: 30 * time.Second,
		probeTimeout:   3 * time.Second,
		backoff:        DefaultBackoff,
		restartWait:    2 * time.Second,
		readyTimeout:   30 * time.Second,
		pollInterval:   500 * time.Millisecond,
		sleep:          sleepCtx,
		now:            time.Now,
		newID:          idgen.Prefixed("call_", idgen.Default),
	}
	for _, o := range opts {
		o(b)
	}
	if b.endpoint == "" {
		if rc, ok := ch.(*RouterChannel); ok {
			b.endpoint = rc.Endpoint()
		}
	}
	return b
}

// ExecuteCommand sends cmd and waits for its envelope. A nil error means
// the listener answered; the envelope may still report success:false.
// Errors are classified: ErrListenerOffline (not executed), ErrTimeout
// (state unknown), ErrThrottled, ErrMalformedResponse, or the caller's
// context error.
func (b *Bridge) ExecuteCommand(ctx context.Context, cmd Command) (*Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("editorbridge: encode %s: %w", cmd.Type, err)
	}

	c := newCall(b.newID(), kit.GetRequestID(ctx), cmd, b.now())
	c.trace.SessionID = kit.GetSessionID(ctx)
	c.trace.Tool = kit.GetTool(ctx)

	var resp *Response
	if err = b.acquire(ctx); err != nil {
		b.move(ctx, c, Failed)
		err = fmt.Errorf("editorbridge: %s: waiting for listener slot: %w", cmd.Type, err)
	} else {
		resp, err = b.run(ctx, c, payload)
	}

	c.trace.Duration = b.now().Sub(c.trace.Started)
	c.trace.Response = resp
	c.trace.Err = err
	b.logCall(ctx, c)
	if b.observer != nil {
		b.observer(c.trace)
	}
	return resp, err
}

// acquire takes the command slot. A caller whose context ends while it
// waits, or that already ended, gets the context error and sends nothing.
func (b *Bridge) acquire(ctx context.Context) error {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		b.release()
		return err
	}
	return nil
}

func (b *Bridge) release() { <-b.slot }

func (b *Bridge) run(ctx context.Context, c *call, payload []byte) (*Response, error) {
	defer b.release()
	body, err := b.pipeline(c)(ctx, payload)
	return b.finish(ctx, c, body, err)
}

// pipeline builds the handler chain for one call:
// breaker -> retry on throttle -> per-attempt state and deadline -> channel.
func (b *Bridge) pipeline(c *call) connectivity.Handler {
	policy := b.backoff.retryPolicy()
	policy.Sleep = b.sleep
	policy.OnRetry = func(ctx context.Context, retry int, err error, wait time.Duration) {
		b.logger.WarnContext(ctx, "listener throttled, backing off",
			"command", c.trace.Command.Type, "attempt", retry, "backoff_ms", wait.Milliseconds())
	}

	attempt := func(next connectivity.Handler) connectivity.Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			c.trace.Attempts++
			b.move(ctx, c, Sent)
			b.move(ctx, c, AwaitingResponse)
			return next(ctx, payload)
		}
	}

	mws := []connectivity.HandlerMiddleware{}
	if b.breaker != nil {
		mws = append(mws, connectivity.WithCircuitBreaker(b.breaker, connectivity.ServiceEditor, isConnectFailure))
	}
	mws = append(mws,
		connectivity.WithRetry(policy, nil),
		attempt,
		connectivity.Timeout(b.commandTimeout),
	)
	return connectivity.Chain(mws...)(b.ch.Send)
}

// finish classifies the outcome of the pipeline and moves the call to a
// terminal state.
func (b *Bridge) finish(ctx context.Context, c *call, body []byte, err error) (*Response, error) {
	cmd := c.trace.Command.Type
	if err == nil {
		resp, derr := decodeEnvelope(body, cmd)
		if derr != nil {
			b.move(ctx, c, Failed)
			return nil, fmt.Errorf("editorbridge: %s: %w", cmd, derr)
		}
		b.move(ctx, c, Succeeded)
		return resp, nil
	}

	var st *connectivity.ErrHTTPStatus
	switch {
	case ctx.Err() != nil:
		// A deadline that cuts the wait for a sent command leaves its
		// outcome unknown. A throttled last attempt was never run.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.state == AwaitingResponse && !IsThrottled(err) {
			b.move(ctx, c, TimedOut)
			return nil, &TimeoutError{Command: cmd, After: b.now().Sub(c.trace.Started), Cause: ctx.Err()}
		}
		b.move(ctx, c, Failed)
		return nil, fmt.Errorf("editorbridge: %s: %w", cmd, ctx.Err())

	case IsThrottled(err):
		b.move(ctx, c, Failed)
		code := http.StatusTooManyRequests
		if errors.As(err, &st) {
			code = st.Code
		}
		return nil, &ThrottleError{Status: code, Attempts: c.trace.Attempts}

	case errors.As(err, &st) && st.Code == http.StatusGatewayTimeout:
		b.move(ctx, c, TimedOut)
		return nil, &TimeoutError{Command: cmd, After: b.commandTimeout}

	case errors.As(err, &st):
		resp, derr := decodeEnvelope(st.Body, cmd)
		if derr != nil || len(st.Body) == 0 {
			b.move(ctx, c, Failed)
			return nil, fmt.Errorf("editorbridge: %s: %w", cmd, err)
		}
		b.move(ctx, c, Succeeded)
		return resp, nil

	case isConnectFailure(err):
		b.move(ctx, c, Failed)
		return nil, &OfflineError{Endpoint: b.endpoint, Cause: err}

	case isDeadline(err):
		b.move(ctx, c, TimedOut)
		return nil, &TimeoutError{Command: cmd, After: b.commandTimeout}

	default:
		b.move(ctx, c, Failed)
		return nil, fmt.Errorf("editorbridge: %s: %w", cmd, err)
	}
}

func (b *Bridge) move(ctx context.Context, c *call, to CallState) {
	from := c.state
	if err := c.transition(to); err != nil {
		b.logger.ErrorContext(ctx, "call state", "call_id", c.trace.ID, "error", err)
		return
	}
	b.logger.DebugContext(ctx, "call state",
		"call_id", c.trace.ID, "command", c.trace.Command.Type, "from", from.String(), "to", to.String())
}

func (b *Bridge) logCall(ctx context.Context, c *call) {
	attrs := []any{
		"call_id", c.trace.ID,
		"command", c.trace.Command.Type,
		"attempts", c.trace.Attempts,
		"state", c.state.String(),
		"duration_ms", c.trace.Duration.Milliseconds(),
	}
	if c.trace.RequestID != "" {
		attrs = append(attrs, "request_id", c.trace.RequestID)
	}
	switch {
	case c.trace.Err != nil:
		b.logger.ErrorContext(ctx, "command failed", append(attrs, "error", c.trace.Err)...)
	case c.trace.Response != nil && !c.trace.Response.Success:
		b.logger.InfoContext(ctx, "command rejected by listener", append(attrs, "remote_error", c.trace.Response.Error)...)
	default:
		b.logger.DebugContext(ctx, "command ok", attrs...)
	}
}

// decodeEnvelope parses a listener body. An empty body comes from a noop
// route and reads as a bare success.
func decodeEnvelope(body []byte, cmd string) (*Response, error) {
	if len(body) == 0 {
		return &Response{Success: true, command: cmd}, nil
	}
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	r.command = cmd
	return &r, nil
}

// IsRemoteAvailable probes the listener's status path under the probe
// timeout. It never returns an error and never waits for an outstanding
// command.
func (b *Bridge) IsRemoteAvailable(ctx context.Context) bool {
	_, err := b.probe(ctx)
	return err == nil
}

// Status returns the listener's status document. An unreachable listener
// yields an *OfflineError, a slow one a *TimeoutError.
func (b *Bridge) Status(ctx context.Context) (*ListenerStatus, error) {
	body, err := b.probe(ctx)
	if err != nil {
		if isDeadline(err) && ctx.Err() == nil {
			return nil, &TimeoutError{Command: "status probe", After: b.probeTimeout}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("editorbridge: status: %w", ctx.Err())
		}
		return nil, &OfflineError{Endpoint: b.endpoint, Cause: err}
	}
	if len(body) == 0 {
		return &ListenerStatus{Status: "disabled"}, nil
	}
	var st ListenerStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("editorbridge: status: %w: %v", ErrMalformedResponse, err)
	}
	return &st, nil
}

func (b *Bridge) probe(ctx context.Context) ([]byte, error) {
	pctx := ctx
	if b.probeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, b.probeTimeout)
		defer cancel()
	}
	body, err := b.ch.Probe(pctx)
	if err != nil {
		b.logger.DebugContext(ctx, "probe failed", "error", err)
		return nil, err
	}
	if b.breaker != nil && b.breaker.State() != connectivity.BreakerClosed {
		b.breaker.Reset()
		b.logger.InfoContext(ctx, "listener reachable again, breaker reset")
	}
	return body, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
