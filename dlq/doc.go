// Package dlq provides a supplemental dead-letter view over jobs that
// reached a terminal FAILED state (the default retry filter chose not
// to reschedule them). It supports inspection, replay, and purging,
// without participating in the job state machine itself.
//
// pool.Executor calls [Service.Push] when a job's failure is terminal,
// i.e. the retry filter left the FAILED state in place because the
// FAILED count exceeded MaxRetries. The original JobDetails, exception
// class/message/stacktrace, and retry count are preserved for debugging.
//
// # Entry
//
// A [Entry] captures:
//   - JobID / Details: original job identity and payload
//   - ExceptionClass / Message / Stacktrace: the final FAILED state
//   - RetryCount: how many times the job entered FAILED
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, jobStore)
//
//	// Push is called by pool.Executor on terminal failure.
//	svc.Push(ctx, terminallyFailedJob)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//	svc.DLQStore().PurgeDLQ(ctx, time.Now())
//
// # Replay
//
// Replaying an entry creates a fresh ENQUEUED job with a new ID, the
// same JobDetails, and a history holding only that ENQUEUED state.
// Replay sets ReplayedAt on the DLQ
// entry; it never mutates the original job.
package dlq
