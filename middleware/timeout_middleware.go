package middleware

import (
	"context"
	"fmt"
	"time"

	"zss/message"
	"zss/rpcerr"
)

// TimeOutMiddleware gives up on next after timeout with a 504 from catalog.
// The handler keeps running with a cancelled context; its result is discarded.
func TimeOutMiddleware(timeout time.Duration, catalog *rpcerr.Catalog) Middleware {
	if catalog == nil {
		catalog = rpcerr.DefaultCatalog()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				reply *message.Message
				err   error
			}
			done := make(chan result, 1)
			go func() {
				reply, err := next(ctx, req)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				return r.reply, r.err
			case <-ctx.Done():
				return nil, catalog.WithMessage(504, fmt.Sprintf("%s timed out after %s", req.Address, timeout))
			}
		}
	}
}
