// Package middleware provides composable middleware for conversion
// execution.
//
// A [Middleware] is a function that wraps a conversion handler.
// Middleware are composed into a chain using [Chain] and applied before
// each conversion runs. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job ID, source name, duration, and outcome
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the conversion context after a configured duration
//   - [Metrics] — records per-conversion duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
