// Package kit holds the transport-neutral pieces shared by the MCP tool
// layer: the Endpoint signature, endpoint middleware, request-scoped
// context keys and the MCP registration helper.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one tool operation: a decoded request in, a JSON-serialisable
// response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs each endpoint call with its tool name, request ID and duration.
func Logging(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"tool", GetTool(ctx),
				"request_id", GetRequestID(ctx),
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.WarnContext(ctx, "tool failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "tool ok", attrs...)
			}
			return resp, err
		}
	}
}
