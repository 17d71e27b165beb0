// Package observability provides a metrics extension for jobrunr. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters, through github.com/xraph/go-utils/metrics, for job enqueue,
// processing, success, failure, deletion, and recurring-fire events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
