package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/daniiell3/jobrunr/id"
)

// Details describes what a job runs: the registered job name, the
// queue it belongs to, and its JSON-encoded payload. jobSignature is
// a hash of Name, Queue and the raw payload bytes (see Signature), so
// two jobs with the same name, queue and identical payload collide on
// it; the coordinator uses it to dedup recurring-job occurrences.
type Details struct {
	Name    string `json:"name"`
	Queue   string `json:"queue"`
	Payload []byte `json:"payload"`
}

// Signature returns a stable hash of d, used as the job's jobSignature.
func (d Details) Signature() string {
	h := sha256.New()
	h.Write([]byte(d.Name))
	h.Write([]byte{0})
	h.Write([]byte(d.Queue))
	h.Write([]byte{0})
	h.Write(d.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Job is the aggregate the coordinator advances through its state
// machine. History is ordered and append-only: History[len-1] is
// always the current state. Version increments by exactly one on every
// persisted mutation and is the optimistic-concurrency token the store
// uses to detect concurrent modification.
type Job struct {
	ID id.JobID `json:"id"`

	Details      Details `json:"jobDetails"`
	JobSignature string  `json:"jobSignature"`

	// RecurringJobID is set when this job was materialized from a
	// RecurringJob occurrence.
	RecurringJobID *string `json:"recurringJobId,omitempty"`

	Version int `json:"version"`

	Priority int `json:"priority"`

	// Metadata is a free-form mapping carried alongside the job,
	// untouched by the coordinator.
	Metadata map[string]string `json:"metadata,omitempty"`

	// History is the ordered, append-only sequence of states this job
	// has occupied. Never empty once persisted.
	History []State `json:"history"`

	ScopeAppID string `json:"scope_app_id,omitempty"`
	ScopeOrgID string `json:"scope_org_id,omitempty"`
}

// New builds a fresh Job in the given initial state (SCHEDULED or
// ENQUEUED). Version starts at 0; the first successful save brings it
// to 1.
func New(jobID id.JobID, details Details, initial State) *Job {
	return &Job{
		ID:           jobID,
		Details:      details,
		JobSignature: details.Signature(),
		Version:      0,
		History:      []State{initial},
	}
}

// State returns the current (last) history entry. Panics if History is
// empty, which invariant #1 forbids for any persisted job.
func (j *Job) State() State {
	if len(j.History) == 0 {
		panic(fmt.Sprintf("job %s: empty history violates invariant", j.ID))
	}
	return j.History[len(j.History)-1]
}

// StateName is a convenience accessor for j.State().Name.
func (j *Job) StateName() StateName { return j.State().Name }

// AppendState appends a new immutable history entry. Version is left
// untouched here; the store increments it on a successful Save, so a
// rejected save can be rolled back by truncating History without
// having to also unwind a Version bump. Callers (the coordinator,
// jobfilter hooks) must not mutate History directly.
func (j *Job) AppendState(s State) {
	j.History = append(j.History, s)
}

// ReplaceLastState overwrites the current history entry in place. It
// exists only for PROCESSING's liveness heartbeat, which refreshes
// UpdatedAt without recording a transition; any other caller should use
// AppendState so CountState-based bookkeeping (retry attempts, orphan
// detection) stays accurate.
func (j *Job) ReplaceLastState(s State) {
	j.History[len(j.History)-1] = s
}

// CountState returns how many times name appears in History, used by
// the default retry filter's max-retries check.
func (j *Job) CountState(name StateName) int {
	n := 0
	for _, s := range j.History {
		if s.Name == name {
			n++
		}
	}
	return n
}

// Clone returns a deep-enough copy safe to mutate independently of j.
// Used by the in-memory and Redis stores to hand out independent copies
// and by the concurrency resolver when merging, so mutating a clone never
// corrupts the original.
func (j *Job) Clone() *Job {
	c := *j
	c.History = append([]State(nil), j.History...)
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.RecurringJobID != nil {
		rid := *j.RecurringJobID
		c.RecurringJobID = &rid
	}
	return &c
}
