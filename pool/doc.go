// Package pool runs jobs handed to it by the coordinator through
// registered handlers. Executor drives a single job through the
// middleware chain and the two-phase jobfilter election/applied
// pipeline; Pool manages a bounded set of worker goroutines that pull
// jobs from a channel the coordinator feeds, executing them
// concurrently and supporting graceful cancellation on shutdown.
//
// Unlike the original JobZooKeeper-fed worker model this generalizes,
// Pool never touches the store directly to find work — the
// coordinator owns polling/election and Pool is purely a bounded
// execution surface, mirroring how this system's Executor/Pool split
// keeps storage access on one side of the boundary.
package pool
