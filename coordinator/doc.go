// Package coordinator runs the periodic control loop each server
// instance uses to elect a master, advance job state machines, detect
// orphaned jobs, materialize recurring occurrences, and feed the local
// worker pool. It generalizes the teacher's cron.Scheduler leader-loop/
// tick-loop idiom (goroutine + time.Ticker + stopCh/sync.WaitGroup) and
// the now-retired worker.Pool's dequeue-loop/heartbeat-loop/reaper-loop
// idiom into the five-master-task ordering: recurring jobs, scheduled
// jobs due, orphaned jobs, succeeded retention, deleted retention.
//
// Coordinator never finds work for the pool to run by looking at the
// pool's internals; it only reads the store and calls Pool.Available/
// Submit. All other servers, master or not, run the non-master parts
// of every tick (self heartbeat, processing-job heartbeat, enqueued
// pull) so work keeps flowing even while a different server holds
// mastership.
package coordinator
