package dlq

import (
	"time"

	"github.com/daniiell3/jobrunr/id"
)

// Entry represents a job that reached a terminal FAILED state with no
// further retry scheduled, captured here for operator inspection or
// manual replay. It is a supplemental inspection view, not part of the
// job's own state machine: pushing to the DLQ never mutates the job.
type Entry struct {
	ID      id.DLQID `json:"id"`
	JobID   id.JobID `json:"job_id"`
	Details struct {
		Name    string `json:"name"`
		Queue   string `json:"queue"`
		Payload []byte `json:"payload"`
	} `json:"jobDetails"`

	ExceptionClass string `json:"exceptionClass"`
	Message        string `json:"message"`
	Stacktrace     string `json:"stacktrace"`
	RetryCount     int    `json:"retryCount"`
	MaxRetries     int    `json:"maxRetries"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
