package jobpool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/rs/zerolog"
)

// JobPool is the reconciled internal view of queued and scheduled jobs:
// two mappings, new and scheduled, each keyed by user, holding ordered
// sequences of that user's Jobs. A job's State field records which
// mapping it belongs to, so an id-keyed index suffices to avoid linear
// scans on Schedule/Remove without duplicating membership bookkeeping.
type JobPool struct {
	mu sync.Mutex

	newJobs   map[string][]*Job
	schedJobs map[string][]*Job
	index     map[string]*Job

	logger zerolog.Logger
}

// NewJobPool builds an empty pool.
func NewJobPool(logger zerolog.Logger) *JobPool {
	return &JobPool{
		newJobs:   make(map[string][]*Job),
		schedJobs: make(map[string][]*Job),
		index:     make(map[string]*Job),
		logger:    logger,
	}
}

// Reconcile synchronizes the pool against an external-queue snapshot.
// Jobs whose id is no longer present are deleted outright. Jobs whose
// id is still present are left untouched — a Scheduled job never
// reverts to Unscheduled. Records with an unrecognized id are
// constructed into new Jobs and inserted into new_jobs via
// priority-ascending ordered insertion (ties keep insertion order).
func (jp *JobPool) Reconcile(records []Record) {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	present := make(map[string]struct{}, len(records))
	for _, rec := range records {
		present[rec["GlobalJobId"]] = struct{}{}
	}

	for id, job := range jp.index {
		if _, ok := present[id]; !ok {
			jp.removeLocked(job)
		}
	}

	for _, rec := range records {
		id := rec["GlobalJobId"]
		if _, known := jp.index[id]; known {
			continue
		}
		job := JobFromRecord(rec)
		jp.insertOrderedLocked(job)
	}
}

func (jp *JobPool) insertOrderedLocked(job *Job) {
	seq := jp.newJobs[job.User]
	// First index whose priority is strictly greater than job's; insert
	// there so ties land after existing equal-priority entries, matching
	// bisect.insort's stable-insert-after-equals behavior.
	i := sort.Search(len(seq), func(i int) bool { return seq[i].Priority > job.Priority })
	seq = append(seq, nil)
	copy(seq[i+1:], seq[i:])
	seq[i] = job
	jp.newJobs[job.User] = seq
	jp.index[job.ID] = job
}

// Schedule moves job from new_jobs[user] to sched_jobs[user] unordered,
// and marks it Scheduled. Fails with errs.ErrNotFound if jobID is not
// currently an unscheduled job in the pool.
func (jp *JobPool) Schedule(jobID string) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	job, ok := jp.index[jobID]
	if !ok || job.State != Unscheduled {
		return fmt.Errorf("schedule %q: %w", jobID, errs.ErrNotFound)
	}

	seq := jp.newJobs[job.User]
	for i, candidate := range seq {
		if candidate.ID == jobID {
			seq = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	if len(seq) == 0 {
		delete(jp.newJobs, job.User)
	} else {
		jp.newJobs[job.User] = seq
	}

	job.State = Scheduled
	jp.schedJobs[job.User] = append(jp.schedJobs[job.User], job)
	return nil
}

// Remove deletes jobID from whichever map currently holds it, dropping
// the user's entry if its sequence becomes empty. Idempotent: removing
// an id not present in the pool is a no-op logged at warn level, per
// the original's remove_system_job.
func (jp *JobPool) Remove(jobID string) {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	job, ok := jp.index[jobID]
	if !ok {
		jp.logger.Warn().Str("job_id", jobID).Msg("remove of unknown job; no-op")
		return
	}
	jp.removeLocked(job)
}

func (jp *JobPool) removeLocked(job *Job) {
	var m map[string][]*Job
	if job.State == Scheduled {
		m = jp.schedJobs
	} else {
		m = jp.newJobs
	}
	seq := m[job.User]
	for i, candidate := range seq {
		if candidate.ID == job.ID {
			seq = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	if len(seq) == 0 {
		delete(m, job.User)
	} else {
		m[job.User] = seq
	}
	delete(jp.index, job.ID)
}

// Counts returns the total number of unscheduled and scheduled jobs
// tracked by the pool, for use by periodic metrics collection.
func (jp *JobPool) Counts() (unscheduled, scheduled int) {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	for _, job := range jp.index {
		if job.State == Scheduled {
			scheduled++
		} else {
			unscheduled++
		}
	}
	return unscheduled, scheduled
}

// HasJob reports whether jobID is tracked by the pool, in either map.
func (jp *JobPool) HasJob(jobID string) bool {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	_, ok := jp.index[jobID]
	return ok
}

// NewJobsForUser returns a copy of user's currently unscheduled jobs, in
// priority-ascending order.
func (jp *JobPool) NewJobsForUser(user string) []*Job {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	seq := jp.newJobs[user]
	out := make([]*Job, len(seq))
	copy(out, seq)
	return out
}

// ScheduledJobsForUser returns a copy of user's currently scheduled
// jobs. Order is unspecified.
func (jp *JobPool) ScheduledJobsForUser(user string) []*Job {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	seq := jp.schedJobs[user]
	out := make([]*Job, len(seq))
	copy(out, seq)
	return out
}

// Snapshot returns an immutable, flattened view of every currently
// unscheduled job, ordered by user then priority-ascending. Mirrors
// the original's JobSet: a scheduling pass iterates this view rather
// than the pool's live maps so a Schedule/Remove call triggered by one
// job's placement never perturbs the pass's iteration.
func (jp *JobPool) Snapshot() *Snapshot {
	jp.mu.Lock()
	defer jp.mu.Unlock()

	users := make([]string, 0, len(jp.newJobs))
	for u := range jp.newJobs {
		users = append(users, u)
	}
	sort.Strings(users)

	var jobs []*Job
	for _, u := range users {
		jobs = append(jobs, jp.newJobs[u]...)
	}
	return &Snapshot{jobs: jobs}
}

// Snapshot is a drop-only view over a point-in-time list of jobs. It
// never mutates the JobPool it was taken from.
type Snapshot struct {
	jobs []*Job
}

// Jobs returns the snapshot's current job list.
func (s *Snapshot) Jobs() []*Job {
	return s.jobs
}

// Drop removes job from the snapshot's remaining work, leaving the
// JobPool itself untouched. Used by a scheduling pass once a job has
// been dispatched (or abandoned for the pass) so it is not considered
// again before the next reconcile.
func (s *Snapshot) Drop(job *Job) {
	for i, candidate := range s.jobs {
		if candidate == job {
			s.jobs = append(s.jobs[:i:i], s.jobs[i+1:]...)
			return
		}
	}
}
