package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/daniiell3/jobrunr/job"
)

// Timeout returns middleware that enforces a fixed execution deadline
// on every job that passes through it. A zero duration disables the
// deadline and the middleware becomes a pass-through. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
