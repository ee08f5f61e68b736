// Package middleware wraps message handlers. The same chain shape serves both
// sides of a call: services wrap request dispatch, clients wrap the transport
// round trip.
package middleware

import (
	"context"

	"zss/message"
)

// HandlerFunc turns a request into a reply. An error means no reply was produced.
type HandlerFunc func(ctx context.Context, req *message.Message) (*message.Message, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
