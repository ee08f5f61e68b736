package middleware

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"zss/message"
)

// LoggingMiddleware logs every request with its outcome and duration.
func LoggingMiddleware(logger logrus.FieldLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			start := time.Now()
			reply, err := next(ctx, req)

			entry := logger.WithFields(logrus.Fields{
				"rid":      req.RID,
				"address":  req.Address.String(),
				"duration": time.Since(start).String(),
			})
			switch {
			case err != nil:
				entry.WithError(err).Warn("request failed")
			case reply != nil && reply.IsError():
				entry.WithField("status", reply.Status).Info("request answered with error")
			default:
				entry.Debug("request handled")
			}
			return reply, err
		}
	}
}
