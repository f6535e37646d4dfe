// CLAUDE:SUMMARY Typed endpoint abstraction, middleware chaining, slog call logging; MCP tool adapter.
// Package kit holds the endpoint abstraction behind the triage tools: a
// typed request goes in, a JSON-serialisable response comes out.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Middleware wraps an Endpoint.
type Middleware[Req, Resp any] func(Endpoint[Req, Resp]) Endpoint[Req, Resp]

// Chain applies mws so the first one is outermost.
func Chain[Req, Resp any](ep Endpoint[Req, Resp], mws ...Middleware[Req, Resp]) Endpoint[Req, Resp] {
	for i := len(mws) - 1; i >= 0; i-- {
		ep = mws[i](ep)
	}
	return ep
}

// Logging logs each call with its duration, transport and trace id.
// Failures log at warn, successes at debug.
func Logging[Req, Resp any](logger *slog.Logger, name string) Middleware[Req, Resp] {
	return func(next Endpoint[Req, Resp]) Endpoint[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", Transport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := TraceID(ctx); id != "" {
				attrs = append(attrs, "trace_id", id)
			}
			if err != nil {
				logger.WarnContext(ctx, "kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}
