// Package job defines the job aggregate, its append-only state history,
// typed definitions, and the job-facing slice of the storage contract.
//
// # Job Entity
//
// A [Job] carries a [Details] descriptor, a derived jobSignature, an
// optimistic-concurrency Version, and an ordered, append-only [History]
// of [State] records. The last entry in History is always current:
//
//	SCHEDULED → ENQUEUED → PROCESSING → SUCCEEDED
//	SCHEDULED → ENQUEUED → PROCESSING → FAILED → SCHEDULED (retry) → ...
//	SCHEDULED → ENQUEUED → PROCESSING → FAILED (terminal)
//	SCHEDULED → ENQUEUED → PROCESSING → DELETED
//
// A [State] never mutates once appended, except that a PROCESSING
// heartbeat refreshes the current entry's UpdatedAt in place via
// [Job.ReplaceLastState] rather than appending a new entry per poll
// interval.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendEmail)
//	job.RegisterDefinition(registry, GenerateReport)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
