package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Logging returns middleware that logs conversion start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("conversion started",
			slog.String("job_id", j.ID.String()),
			slog.String("source", j.Source.Name),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("conversion failed",
				slog.String("job_id", j.ID.String()),
				slog.String("source", j.Source.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("conversion completed",
				slog.String("job_id", j.ID.String()),
				slog.String("source", j.Source.Name),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
