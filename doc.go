// Package jobrunr provides a durable, distributed background-job processing
// engine for Go. Application code enqueues one-shot, scheduled, or recurring
// units of work; a fleet of servers durably persists them, coordinates who
// processes what, executes them, retries failures with backoff, and retains
// history for operator inspection.
//
// jobrunr is designed as a library, not a service. Import it, configure a
// StorageProvider, register job handlers, and start a Server.
//
// # Quick Start
//
//	srv, err := jobrunr.New(
//	    jobrunr.WithStore(pgStore),
//	    jobrunr.WithWorkerPoolSize(20),
//	)
//
// # Architecture
//
// Each server instance runs a coordinator ("JobZooKeeper") that elects a
// single master among peers, advances job state machines, detects orphaned
// jobs, materializes recurring-job occurrences, and feeds a bounded local
// worker pool. All servers share a single StorageProvider backend.
//
// Job, server and dead-letter entry IDs use TypeID — type-prefixed,
// K-sortable, UUIDv7-based identifiers. Recurring jobs are identified by
// a caller-chosen string.
package jobrunr
