package job

import "time"

// StateName is the tag of a JobState variant.
type StateName string

const (
	Scheduled  StateName = "SCHEDULED"
	Enqueued   StateName = "ENQUEUED"
	Processing StateName = "PROCESSING"
	Succeeded  StateName = "SUCCEEDED"
	Failed     StateName = "FAILED"
	Deleted    StateName = "DELETED"
)

// ExceptionClassNotFound is the ExceptionClass recorded on a FAILED
// state when Execute finds no handler registered for a job's name. The
// default retry filter treats this class as terminal and never
// reschedules it.
const ExceptionClassNotFound = "JobClassNotFoundException"

// State is one immutable entry in a job's history. Only the fields
// relevant to Name are populated; callers pattern-match on Name before
// reading variant-specific fields.
//
// A State, once appended to a Job's History, is never mutated in place,
// with one narrow exception: [Job.ReplaceLastState] overwrites the
// current PROCESSING entry's UpdatedAt for liveness heartbeats, since a
// heartbeat is not a transition and appending one entry per poll
// interval would grow History without bound.
type State struct {
	Name StateName `json:"name"`

	// SCHEDULED
	ScheduledAt time.Time `json:"scheduledAt,omitempty"`
	Reason      string    `json:"reason,omitempty"`

	// ENQUEUED
	EnqueuedAt time.Time `json:"enqueuedAt,omitempty"`

	// PROCESSING
	StartedAt time.Time `json:"startedAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	ServerID  string    `json:"serverId,omitempty"`

	// SUCCEEDED
	SucceededAt time.Time     `json:"succeededAt,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	// FAILED
	FailedAt       time.Time `json:"failedAt,omitempty"`
	ExceptionClass string    `json:"exceptionClass,omitempty"`
	Message        string    `json:"message,omitempty"`
	Stacktrace     string    `json:"stacktrace,omitempty"`

	// DELETED
	DeletedAt time.Time `json:"deletedAt,omitempty"`
}

// NewScheduled builds a SCHEDULED state.
func NewScheduled(at time.Time, reason string) State {
	return State{Name: Scheduled, ScheduledAt: at, Reason: reason}
}

// NewEnqueued builds an ENQUEUED state.
func NewEnqueued(at time.Time) State {
	return State{Name: Enqueued, EnqueuedAt: at}
}

// NewProcessing builds a PROCESSING state. StartedAt and UpdatedAt are
// equal on the first PROCESSING entry; a heartbeat replaces that entry
// in place (Job.ReplaceLastState) with StartedAt held constant and
// UpdatedAt advanced.
func NewProcessing(startedAt, updatedAt time.Time, serverID string) State {
	return State{Name: Processing, StartedAt: startedAt, UpdatedAt: updatedAt, ServerID: serverID}
}

// NewSucceeded builds a SUCCEEDED state.
func NewSucceeded(at time.Time, d time.Duration) State {
	return State{Name: Succeeded, SucceededAt: at, Duration: d}
}

// NewFailed builds a FAILED state.
func NewFailed(at time.Time, exceptionClass, message, stacktrace string) State {
	return State{Name: Failed, FailedAt: at, ExceptionClass: exceptionClass, Message: message, Stacktrace: stacktrace}
}

// NewDeleted builds a DELETED state.
func NewDeleted(at time.Time, reason string) State {
	return State{Name: Deleted, DeletedAt: at, Reason: reason}
}

// At returns the timestamp used for update-ordering and retention
// windows, regardless of which variant s is.
func (s State) At() time.Time {
	switch s.Name {
	case Scheduled:
		return s.ScheduledAt
	case Enqueued:
		return s.EnqueuedAt
	case Processing:
		return s.UpdatedAt
	case Succeeded:
		return s.SucceededAt
	case Failed:
		return s.FailedAt
	case Deleted:
		return s.DeletedAt
	default:
		return time.Time{}
	}
}
