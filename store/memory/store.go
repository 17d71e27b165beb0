// Package memory provides a fully in-memory implementation of
// store.Store, intended for unit tests and local development. It
// implements the storage-provider contract exactly, including
// optimistic-concurrency saves and paginated filtered queries, so
// coordinator logic can be exercised without a real backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/recurring"
	"github.com/daniiell3/jobrunr/roster"
)

// Ensure Store implements each subsystem contract at compile time.
// We can't import the store package here (import cycle).
var (
	_ job.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ roster.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	recurring map[string]*recurring.Job
	dlqs      map[string]*dlq.Entry
	servers   map[string]*roster.Status

	counters map[job.StateName]int64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		recurring: make(map[string]*recurring.Job),
		dlqs:      make(map[string]*dlq.Entry),
		servers:   make(map[string]*roster.Status),
		counters:  make(map[job.StateName]int64),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

func (m *Store) Migrate(_ context.Context) error { return nil }
func (m *Store) Ping(_ context.Context) error    { return nil }
func (m *Store) Close() error                    { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

func (m *Store) Save(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(j)
}

func (m *Store) SaveBatch(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicting []*job.Job
	for _, j := range jobs {
		if existing, ok := m.jobs[j.ID.String()]; ok && existing.Version != j.Version {
			cp := *existing
			conflicting = append(conflicting, &cp)
		}
	}
	if len(conflicting) > 0 {
		return &job.ConcurrentModificationError{Conflicting: conflicting}
	}
	for _, j := range jobs {
		if err := m.saveLocked(j); err != nil {
			return err
		}
	}
	return nil
}

// saveLocked applies optimistic-concurrency save under m.mu. On a new
// job (not yet stored) Version must be 0; on an existing job, j.Version
// must equal the stored Version, and the stored Version becomes
// j.Version+1 afterward.
func (m *Store) saveLocked(j *job.Job) error {
	key := j.ID.String()
	existing, ok := m.jobs[key]
	if !ok {
		if j.Version != 0 {
			return &job.ConcurrentModificationError{}
		}
	} else if existing.Version != j.Version {
		cp := *existing
		return &job.ConcurrentModificationError{Conflicting: []*job.Job{&cp}}
	}
	cp := j.Clone()
	cp.Version = j.Version + 1
	m.jobs[key] = cp
	j.Version = cp.Version
	return nil
}

func (m *Store) GetByID(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Store) GetByState(_ context.Context, state job.StateName, page job.PageRequest) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterJobsLocked(func(j *job.Job) bool { return j.StateName() == state }, page), nil
}

func (m *Store) GetByStateUpdatedBefore(_ context.Context, state job.StateName, cutoff time.Time, page job.PageRequest) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterJobsLocked(func(j *job.Job) bool {
		return j.StateName() == state && j.State().At().Before(cutoff)
	}, page), nil
}

func (m *Store) GetScheduledBefore(_ context.Context, cutoff time.Time, page job.PageRequest) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterJobsLocked(func(j *job.Job) bool {
		return j.StateName() == job.Scheduled && j.State().ScheduledAt.Before(cutoff)
	}, page), nil
}

// filterJobsLocked must be called with m.mu held (read or write).
func (m *Store) filterJobsLocked(pred func(*job.Job) bool, page job.PageRequest) []*job.Job {
	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if pred(j) {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].State().At().Before(result[k].State().At())
	})
	if page.Offset > 0 {
		if page.Offset >= len(result) {
			return nil
		}
		result = result[page.Offset:]
	}
	if page.Limit > 0 && len(result) > page.Limit {
		result = result[:page.Limit]
	}
	return result
}

func (m *Store) DeleteByStateUpdatedBefore(_ context.Context, state job.StateName, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, j := range m.jobs {
		if j.StateName() == state && j.State().At().Before(cutoff) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

func (m *Store) ExistsBySignature(_ context.Context, signature string, states ...job.StateName) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(map[job.StateName]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	for _, j := range m.jobs {
		if j.JobSignature != signature {
			continue
		}
		if _, ok := set[j.StateName()]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) CountByState(_ context.Context, state job.StateName) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if j.StateName() == state {
			n++
		}
	}
	return n, nil
}

func (m *Store) GetStats(_ context.Context) (job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s job.Stats
	for _, j := range m.jobs {
		switch j.StateName() {
		case job.Scheduled:
			s.Scheduled++
		case job.Enqueued:
			s.Enqueued++
		case job.Processing:
			s.Processing++
		case job.Succeeded:
			s.Succeeded++
		case job.Failed:
			s.Failed++
		}
	}
	s.SucceededLifetime = m.counters[job.Succeeded]
	s.SubmittedLifetime = m.counters[job.Enqueued] + m.counters[job.Scheduled]
	return s, nil
}

func (m *Store) PublishStatCounter(_ context.Context, state job.StateName, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[state] += delta
	return nil
}

// ──────────────────────────────────────────────────
// Recurring Job Store
// ──────────────────────────────────────────────────

func (m *Store) List(_ context.Context) ([]*recurring.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*recurring.Job, 0, len(m.recurring))
	for _, r := range m.recurring {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

func (m *Store) SaveRecurring(_ context.Context, r *recurring.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Version++
	m.recurring[r.ID] = &cp
	r.Version = cp.Version
	return nil
}

// Delete removes the recurring job definition rid and purges any
// SCHEDULED occurrence materialized from it, in the same call. An
// occurrence that has already moved on to ENQUEUED or PROCESSING is
// left alone; it runs to completion like any other job.
func (m *Store) Delete(_ context.Context, rid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recurring, rid)
	for key, j := range m.jobs {
		if j.StateName() == job.Scheduled && j.RecurringJobID != nil && *j.RecurringJobID == rid {
			delete(m.jobs, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlqs[entry.ID.String()] = entry
	return nil
}

func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Details.Queue != opts.Queue {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].FailedAt.Before(result[k].FailedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	return e, nil
}

func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Roster Store
// ──────────────────────────────────────────────────

func (m *Store) Announce(_ context.Context, s *roster.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.servers[s.ID.String()] = &cp
	return nil
}

func (m *Store) Heartbeat(_ context.Context, s *roster.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.servers[s.ID.String()] = &cp
	return nil
}

func (m *Store) ListServers(_ context.Context) ([]*roster.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*roster.Status, 0, len(m.servers))
	for _, s := range m.servers {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].FirstHeartbeat.Before(result[k].FirstHeartbeat) })
	return result, nil
}

func (m *Store) RemoveTimedOut(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, s := range m.servers {
		if s.LastHeartbeat.Before(cutoff) {
			delete(m.servers, key)
			n++
		}
	}
	return n, nil
}

func (m *Store) Remove(_ context.Context, serverID id.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, serverID.String())
	return nil
}
