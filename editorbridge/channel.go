package editorbridge

import (
	"context"

	"github.com/hazyhaar/uemcp/connectivity"
)

// Channel is the point-to-point transport to the listener. Send carries an
// encoded Command and returns the raw envelope; Probe hits the lightweight
// status path.
type Channel interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	Probe(ctx context.Context) ([]byte, error)
}

// RouterChannel sends through the "editor" service of a connectivity
// Router and probes through "editor.status", so the routes table decides
// whether the editor is the HTTP listener, the in-process mock or nothing.
type RouterChannel struct {
	router *connectivity.Router
}

// NewRouterChannel wraps a router.
func NewRouterChannel(r *connectivity.Router) *RouterChannel {
	return &RouterChannel{router: r}
}

func (c *RouterChannel) Send(ctx context.Context, payload []byte) ([]byte, error) {
	return c.router.Call(ctx, connectivity.ServiceEditor, payload)
}

func (c *RouterChannel) Probe(ctx context.Context) ([]byte, error) {
	return c.router.Call(ctx, connectivity.ServiceEditorStatus, nil)
}

// Endpoint returns the routed editor endpoint, or the strategy name when
// the route is not remote.
func (c *RouterChannel) Endpoint() string {
	info, ok := c.router.Inspect(connectivity.ServiceEditor)
	if !ok {
		return ""
	}
	if info.Endpoint != "" {
		return info.Endpoint
	}
	return info.Strategy + " editor"
}
