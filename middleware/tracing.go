package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/daniiell3/jobrunr/job"
)

// tracerName is the instrumentation scope name for jobrunr tracing.
const tracerName = "github.com/daniiell3/jobrunr"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: jobrunr.job.id, jobrunr.job.name, jobrunr.queue,
// jobrunr.failure_count, jobrunr.scope.app_id, jobrunr.scope.org_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobrunr.job.execute",
			trace.WithAttributes(
				attribute.String("jobrunr.job.id", j.ID.String()),
				attribute.String("jobrunr.job.name", j.Details.Name),
				attribute.String("jobrunr.queue", j.Details.Queue),
				attribute.Int("jobrunr.failure_count", j.CountState(job.Failed)),
				attribute.String("jobrunr.scope.app_id", j.ScopeAppID),
				attribute.String("jobrunr.scope.org_id", j.ScopeOrgID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
