// Package jobfilter lets callers observe and influence a job's state
// transitions before and after they are persisted.
//
// A filter implements one or both of [StateElectionFilter] and
// [StateAppliedFilter]. During election, every registered election
// filter gets a chance to replace the state the coordinator is about
// to apply — this is how the default retry policy turns a FAILED
// election into a SCHEDULED retry. Once a state has actually been
// persisted, applied filters are notified for side effects (metrics,
// webhooks) that must not influence the outcome itself.
package jobfilter
