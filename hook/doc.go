// Package hook defines the lifecycle hook system.
//
// Hooks are notified of conversion lifecycle events and can react to
// them — streaming progress to subscribers, delivering completion
// callbacks, recording metrics, etc. Each lifecycle event is a separate
// interface so hooks opt in only to the events they care about.
//
// # Implementing a Hook
//
//	type MyHook struct{}
//
//	func (h *MyHook) Name() string { return "my-hook" }
//
//	// Opt in to specific events by implementing their interfaces.
//	func (h *MyHook) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Events
//
//   - [JobQueued] — job passed admission and entered the queue
//   - [JobStarted] — a worker began converting the deck
//   - [JobProgress] — conversion progress advanced
//   - [JobCompleted] — all slides rendered successfully
//   - [JobFailed] — conversion failed terminally
//   - [Shutdown] — the service is shutting down gracefully
//
// The [Registry] fans out each event to all registered hooks that
// implement the corresponding interface. Hook errors are logged and
// swallowed — a misbehaving hook never blocks the pipeline.
package hook
