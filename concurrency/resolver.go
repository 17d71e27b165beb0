package concurrency

import (
	"errors"
	"fmt"

	"github.com/daniiell3/jobrunr/job"
)

// Decision is the resolver's verdict for a single conflicting job pair.
type Decision int

const (
	// Allow means the local write is safe to re-apply once its Version
	// is refreshed from the remote copy.
	Allow Decision = iota
	// RetryTick means the local write must be dropped; the coordinator
	// should abandon the rest of its current tick and re-derive its
	// decisions on the next one.
	RetryTick
	// Fatal means the conflict indicates a bug or corrupted state and
	// should propagate as an error, incrementing the tick's exception
	// counter.
	Fatal
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RetryTick:
		return "retry_tick"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Policy decides, for a single conflicting pair, whether the local
// write may be re-applied (Allow), must be dropped for the whole tick
// (RetryTick), or is a fatal inconsistency (Fatal).
type Policy interface {
	Resolve(local, remote *job.Job) Decision
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(local, remote *job.Job) Decision

// Resolve calls f.
func (f PolicyFunc) Resolve(local, remote *job.Job) Decision { return f(local, remote) }

// stage ranks a StateName by how far along the normal lifecycle it is,
// for detecting regressions. Terminal states all rank highest; DELETED
// is excluded since it can legitimately happen from any stage.
func stage(name job.StateName) int {
	switch name {
	case job.Scheduled:
		return 0
	case job.Enqueued:
		return 1
	case job.Processing:
		return 2
	case job.Succeeded, job.Failed:
		return 3
	default:
		return -1
	}
}

func isTerminal(name job.StateName) bool {
	return name == job.Succeeded || name == job.Failed || name == job.Deleted
}

// DefaultPolicy implements spec's default three-way policy: heartbeats
// (a PROCESSING entry refreshed in place) and deletions are always allowed; any local
// transition that would advance a job past a remote state that already
// reached a terminal outcome loses to that remote write and forces a
// tick retry; a local proposal that would regress a job to an earlier
// lifecycle stage than a non-terminal remote state is fatal.
var DefaultPolicy = PolicyFunc(func(local, remote *job.Job) Decision {
	localName := local.StateName()
	remoteName := remote.StateName()

	if localName == job.Processing || localName == job.Deleted {
		return Allow
	}

	if isTerminal(remoteName) {
		return RetryTick
	}

	if ls, rs := stage(localName), stage(remoteName); ls >= 0 && rs >= 0 && ls < rs {
		return Fatal
	}

	return Allow
})

// ErrRetryTick signals the coordinator that the current tick's local
// writes must be abandoned and re-derived on the next tick; it carries
// no job-specific detail because by the time it is returned the whole
// batch has already been dropped.
var ErrRetryTick = errors.New("concurrency: conflicting remote state invalidates this tick")

// Resolver reconciles a *job.ConcurrentModificationError against the
// batch of jobs a coordinator tick attempted to save.
type Resolver struct {
	policy Policy
}

// NewResolver creates a Resolver. A nil policy defaults to DefaultPolicy.
func NewResolver(policy Policy) *Resolver {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &Resolver{policy: policy}
}

// Resolve walks every job in local that the store reported as
// conflicting (per conflict.Conflicting) and applies the resolver's
// policy. It returns the set of jobs the coordinator should retry
// saving — with Version and, where the policy says to prefer the
// remote copy, content merged from remote — or ErrRetryTick if any
// conflict calls for abandoning the tick, or a non-nil error wrapping
// the fatal job's ID if any conflict is irreconcilable.
//
// Jobs in local that the store did not report as conflicting are
// passed through unchanged; Resolve never mutates the caller's local
// or conflict slices.
func (r *Resolver) Resolve(local []*job.Job, conflict *job.ConcurrentModificationError) ([]*job.Job, error) {
	remoteByID := make(map[string]*job.Job, len(conflict.Conflicting))
	for _, rj := range conflict.Conflicting {
		remoteByID[rj.ID.String()] = rj
	}

	retry := make([]*job.Job, 0, len(local))
	for _, lj := range local {
		remote, ok := remoteByID[lj.ID.String()]
		if !ok {
			retry = append(retry, lj)
			continue
		}

		switch r.policy.Resolve(lj, remote) {
		case Allow:
			retry = append(retry, merge(lj, remote))
		case RetryTick:
			return nil, ErrRetryTick
		case Fatal:
			return nil, fmt.Errorf("concurrency: fatal conflict for job %s: local=%s remote=%s",
				lj.ID, lj.StateName(), remote.StateName())
		default:
			return nil, fmt.Errorf("concurrency: unknown decision for job %s", lj.ID)
		}
	}
	return retry, nil
}

// merge takes the remote copy as the base (so its Version satisfies
// the store's optimistic-concurrency check on retry) but keeps the
// local copy's current state if it is strictly newer, per spec's
// "take the remote state but keep our updatedAt if newer."
func merge(local, remote *job.Job) *job.Job {
	merged := remote.Clone()
	if local.State().At().After(remote.State().At()) {
		merged.History[len(merged.History)-1] = local.State()
	}
	return merged
}
