package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/daniiell3/jobrunr/ext"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobProcessing  = (*MetricsExtension)(nil)
	_ ext.JobSucceeded   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobDeleted     = (*MetricsExtension)(nil)
	_ ext.RecurringFired = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils MetricFactory.
// Register it as a jobrunr extension to automatically track enqueue rates,
// success counts, failure rates, deletions, and recurring-job fires.
type MetricsExtension struct {
	JobEnqueued    gu.Counter
	JobProcessing  gu.Counter
	JobSucceeded   gu.Counter
	JobFailed      gu.Counter
	JobDeleted     gu.Counter
	RecurringFired gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("jobrunr/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Use fapp.Metrics() in forge extensions, or gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:    factory.Counter("jobrunr.job.enqueued"),
		JobProcessing:  factory.Counter("jobrunr.job.processing"),
		JobSucceeded:   factory.Counter("jobrunr.job.succeeded"),
		JobFailed:      factory.Counter("jobrunr.job.failed"),
		JobDeleted:     factory.Counter("jobrunr.job.deleted"),
		RecurringFired: factory.Counter("jobrunr.recurring.fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	m.JobEnqueued.Inc()
	return nil
}

// OnJobProcessing implements ext.JobProcessing.
func (m *MetricsExtension) OnJobProcessing(_ context.Context, _ *job.Job) error {
	m.JobProcessing.Inc()
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	m.JobSucceeded.Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (m *MetricsExtension) OnJobDeleted(_ context.Context, _ *job.Job, _ string) error {
	m.JobDeleted.Inc()
	return nil
}

// ── Recurring lifecycle hooks ───────────────────────

// OnRecurringFired implements ext.RecurringFired.
func (m *MetricsExtension) OnRecurringFired(_ context.Context, _ string, _ id.JobID) error {
	m.RecurringFired.Inc()
	return nil
}
