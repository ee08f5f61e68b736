package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"zss/message"
	"zss/rpcerr"
)

// RateLimitMiddleware admits r requests per second with bursts of burst
// (token bucket) and rejects the rest with a 429 from catalog.
func RateLimitMiddleware(r float64, burst int, catalog *rpcerr.Catalog) Middleware {
	if catalog == nil {
		catalog = rpcerr.DefaultCatalog()
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			if !limiter.Allow() {
				return nil, catalog.WithMessage(429, "rate limit exceeded for "+req.Address.SID)
			}
			return next(ctx, req)
		}
	}
}
