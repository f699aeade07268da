package mockeditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/uemcp/connectivity"
	"github.com/hazyhaar/uemcp/editorbridge"
	"github.com/hazyhaar/uemcp/horosafe"
)

// Server speaks the listener protocol for an Engine:
//
//	GET  /  status JSON
//	POST /  {type, params} -> {success, error?, ...}
//
// It owns its net.Listener so Stop and Relisten behave like the real
// listener going away and coming back on the same port.
type Server struct {
	engine *Engine
	logger *slog.Logger

	mu       sync.Mutex
	addr     string
	srv      *http.Server
	throttle int
	wait     time.Duration
	latency  time.Duration
	stopped  chan struct{}
}

// DefaultCommandWait is how long the listener waits for the editor to run
// a queued command before answering 504.
const DefaultCommandWait = 10 * time.Second

// NewServer wraps e. Call Listen to start serving.
func NewServer(e *Engine) *Server {
	return &Server{engine: e, logger: e.logger, wait: DefaultCommandWait}
}

// SetCommandWait changes the per-command wait. Zero or less waits forever.
func (s *Server) SetCommandWait(d time.Duration) {
	s.mu.Lock()
	s.wait = d
	s.mu.Unlock()
}

// SetLatency delays every command by d before the editor picks it up,
// like a busy editor that only reaches its queue on a later tick.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Handler returns the chi router serving the listener protocol.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handleStatus)
	r.Post("/", s.handleCommand)
	return r
}

// Listen starts serving on addr ("127.0.0.1:0" picks a free port).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockeditor: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	stopped := make(chan struct{})

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.srv = srv
	s.stopped = stopped
	s.mu.Unlock()

	go func() {
		defer close(stopped)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mock listener", "error", err)
		}
	}()
	s.logger.Info("mock listener started", "addr", s.addr)
	return nil
}

// URL is the listener base URL with a trailing slash.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "http://" + s.addr + "/"
}

// Addr is the bound host:port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the listener down after in-flight requests finish. Further
// connections are refused until Relisten.
func (s *Server) Stop() {
	s.mu.Lock()
	srv, stopped := s.srv, s.stopped
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	<-stopped

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	s.mu.Unlock()
	s.logger.Info("mock listener stopped")
}

// Running reports whether the listener is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	srv, stopped := s.srv, s.stopped
	s.mu.Unlock()
	if srv == nil || stopped == nil {
		return false
	}
	select {
	case <-stopped:
		return false
	default:
		return true
	}
}

// Relisten starts serving again on the previous address.
func (s *Server) Relisten() error {
	if s.Running() {
		return nil
	}
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	if addr == "" {
		return errors.New("mockeditor: relisten before listen")
	}
	return s.Listen(addr)
}

// Throttle makes the next n commands answer 429.
func (s *Server) Throttle(n int) {
	s.mu.Lock()
	s.throttle = n
	s.mu.Unlock()
}

func (s *Server) takeThrottle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.throttle <= 0 {
		return false
	}
	s.throttle--
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.takeThrottle() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false, "error": "Too many requests"})
		return
	}
	body, err := horosafe.LimitedReadAll(r.Body, horosafe.MaxResponseBody)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	out, err := s.execute(r.Context(), body)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"success": false, "error": "Command execution timeout"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)

	var cmd struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(body, &cmd) == nil && cmd.Type == editorbridge.CmdSystemRestart {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// The listener stops itself once the response is on the wire.
		go s.Stop()
	}
}

// execute hands body to the engine under the command wait.
func (s *Server) execute(ctx context.Context, body []byte) ([]byte, error) {
	s.mu.Lock()
	wait, latency := s.wait, s.latency
	s.mu.Unlock()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.engine.Handle(ctx, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// RegisterConnectivity serves the editor services from e in-process, for
// the mock executor strategy.
func RegisterConnectivity(r *connectivity.Router, e *Engine) {
	wrap := func(service string, h connectivity.Handler) connectivity.Handler {
		return connectivity.Chain(
			connectivity.Recovery(e.logger),
			connectivity.Logging(e.logger, service),
		)(h)
	}
	r.RegisterLocal(connectivity.ServiceEditor, wrap(connectivity.ServiceEditor, e.Handle))
	r.RegisterLocal(connectivity.ServiceEditorStatus, wrap(connectivity.ServiceEditorStatus,
		func(_ context.Context, _ []byte) ([]byte, error) {
			return json.Marshal(e.Status())
		}))
}

