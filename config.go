package jobrunr

import (
	"fmt"
	"time"
)

// Config holds configuration for a Server.
type Config struct {
	// WorkerPoolSize is the number of jobs this server processes concurrently.
	WorkerPoolSize int

	// Queues lists queue names; Validate requires at least one. The
	// coordinator does not filter by it: enqueued jobs are pulled from
	// every queue.
	Queues []string

	// PollInterval governs both the coordinator's tick cadence and orphan
	// detection (orphan threshold is always 4x PollInterval). Minimum 5s.
	PollInterval time.Duration

	// DeleteSucceededJobsAfter is how long a SUCCEEDED job is retained
	// before the master transitions it to DELETED.
	DeleteSucceededJobsAfter time.Duration

	// PermanentlyDeleteDeletedJobsAfter is how long a DELETED job is
	// retained before physical removal.
	PermanentlyDeleteDeletedJobsAfter time.Duration

	// MaxRetries is the number of times the default retry filter will
	// reschedule a FAILED job before it becomes terminal.
	MaxRetries int

	// ChangeNotificationRateLimit caps job-stat change notifications per
	// second, protecting the storage backend from write bursts.
	ChangeNotificationRateLimit float64

	// ShutdownTimeout bounds how long Stop waits for in-flight jobs to
	// finish before cancelling them.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the defaults from the operating
// contract: 15s polling, 10 retries, 36h/72h retention windows, and a
// 5 update/sec change-notification rate limit.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:                    10,
		Queues:                            []string{"default"},
		PollInterval:                      15 * time.Second,
		DeleteSucceededJobsAfter:          36 * time.Hour,
		PermanentlyDeleteDeletedJobsAfter: 72 * time.Hour,
		MaxRetries:                        10,
		ChangeNotificationRateLimit:       5,
		ShutdownTimeout:                   30 * time.Second,
	}
}

// minPollInterval is the floor enforced on PollInterval; below this the
// orphan-detection window (4x) becomes too tight to tolerate normal GC
// pauses and network jitter.
const minPollInterval = 5 * time.Second

// Validate checks the configuration against the constraints the coordinator
// relies on.
func (c Config) Validate() error {
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("jobrunr: poll interval %s below minimum %s", c.PollInterval, minPollInterval)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("jobrunr: worker pool size must be positive, got %d", c.WorkerPoolSize)
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("jobrunr: at least one queue must be configured")
	}
	return nil
}

// OrphanThreshold returns the duration after which a PROCESSING job with
// no heartbeat is considered orphaned: 4x PollInterval.
func (c Config) OrphanThreshold() time.Duration {
	return 4 * c.PollInterval
}
