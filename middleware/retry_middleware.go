package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"zss/message"
	"zss/transport"
)

// RetryMiddleware retries transport failures, timeouts included, with
// exponential backoff. Replies, error replies too, are never retried.
// Client-side only: calls are not retried unless this is installed.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger logrus.FieldLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			reply, err := next(ctx, req)
			for i := 0; i < maxRetries && retryable(err); i++ {
				delay := baseDelay * time.Duration(1<<i)
				logger.WithFields(logrus.Fields{
					"attempt": i + 1,
					"address": req.Address.String(),
					"delay":   delay.String(),
				}).WithError(err).Warn("retrying call")

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				reply, err = next(ctx, req)
			}
			return reply, err
		}
	}
}

func retryable(err error) bool {
	var te *transport.TransportError
	return errors.As(err, &te)
}
