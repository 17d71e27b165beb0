// Package ext defines the extension system for jobrunr.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s succeeded in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was created directly in the ENQUEUED state
//   - [JobProcessing] — a server picked up the job and began executing it
//   - [JobSucceeded] — job finished successfully
//   - [JobFailed] — job's handler failed, whether or not a retry follows
//   - [JobDeleted] — job was deleted by explicit request
//
// # Other Hooks
//
//   - [RecurringFired] — a recurring job's schedule came due and a new occurrence was materialized
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
