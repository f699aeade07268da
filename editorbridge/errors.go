package editorbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/hazyhaar/uemcp/connectivity"
)

var (
	// ErrListenerOffline: the listener is not running. The command did not execute.
	ErrListenerOffline = errors.New("editor listener offline")
	// ErrTimeout: no answer in time. The command may still run; state is unknown.
	ErrTimeout = errors.New("editor command timed out")
	// ErrThrottled: the listener kept refusing intake after every retry.
	ErrThrottled = errors.New("editor listener throttled")
	// ErrMalformedResponse: the body is not a listener envelope.
	ErrMalformedResponse = errors.New("malformed listener response")
	// ErrRestartPhase: a restart handshake step was called out of order.
	ErrRestartPhase = errors.New("restart handshake out of order")
	// ErrNoRestartTrigger: phase two of a restart has no out-of-band trigger.
	ErrNoRestartTrigger = errors.New("no restart trigger configured: run restart_listener() from the editor's Python console, or set UEMCP_RESTART_COMMAND")
)

// OfflineError reports that the listener could not be reached.
type OfflineError struct {
	Endpoint string
	Cause    error
}

func (e *OfflineError) Error() string {
	where := e.Endpoint
	if where == "" {
		where = "editor listener"
	}
	return fmt.Sprintf("editorbridge: cannot reach %s: start the editor with the listener plugin enabled (%v)", where, e.Cause)
}

func (e *OfflineError) Unwrap() error        { return e.Cause }
func (e *OfflineError) Is(target error) bool { return target == ErrListenerOffline }

// TimeoutError reports a command that got no answer in time.
type TimeoutError struct {
	Command string
	After   time.Duration
	// Cause is the caller's context error when its deadline ended the wait.
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("editorbridge: %s timed out after %s: state unknown, verify before retrying", e.Command, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) Unwrap() error        { return e.Cause }

// ThrottleError reports a command refused on every attempt.
type ThrottleError struct {
	Status   int
	Attempts int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("editorbridge: listener throttled (HTTP %d) after %d attempts", e.Status, e.Attempts)
}

func (e *ThrottleError) Is(target error) bool { return target == ErrThrottled }

// RemoteError is a success:false envelope turned into an error.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Command == "" {
		return "editorbridge: remote failure: " + e.Message
	}
	return fmt.Sprintf("editorbridge: %s failed: %s", e.Command, e.Message)
}

// IsOffline reports whether err means the listener is not running.
func IsOffline(err error) bool { return errors.Is(err, ErrListenerOffline) }

// IsTimeout reports whether err is a client-side timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsThrottled reports whether err is a throttle signal, either a raw
// 429/503 from the transport or an exhausted retry budget.
func IsThrottled(err error) bool {
	if errors.Is(err, ErrThrottled) {
		return true
	}
	var st *connectivity.ErrHTTPStatus
	if errors.As(err, &st) {
		return st.Code == http.StatusTooManyRequests || st.Code == http.StatusServiceUnavailable
	}
	return false
}

// isConnectFailure reports errors where the request never reached a
// listener: refused or unroutable connections, DNS failures, an open
// circuit or a missing route.
func isConnectFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var open *connectivity.ErrCircuitOpen
	if errors.As(err, &open) {
		return true
	}
	var nf *connectivity.ErrServiceNotFound
	if errors.As(err, &nf) {
		return true
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" && !op.Timeout() {
		return true
	}
	return false
}

// isDeadline reports a deadline hit inside the transport.
func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
