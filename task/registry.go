package task

import (
	"fmt"
	"sync"
	"time"
)

type entry struct {
	mu  sync.Mutex
	job *Job
}

// Registry is the in-memory job table. Each job has its own lock, so workers
// updating different jobs never contend; callers only ever see copies.
type Registry struct {
	jobs sync.Map // id -> *entry

	orderMu sync.RWMutex
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create stores a new job. The id must be unique.
func (r *Registry) Create(j *Job) error {
	now := time.Now()
	stored := j.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if _, loaded := r.jobs.LoadOrStore(stored.ID, &entry{job: stored}); loaded {
		return fmt.Errorf("job %s already exists", stored.ID)
	}
	r.orderMu.Lock()
	r.order = append(r.order, stored.ID)
	r.orderMu.Unlock()
	return nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (*Job, bool) {
	v, ok := r.jobs.Load(id)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), true
}

// Update applies fn to the job under its lock. Terminal jobs are immutable:
// the update is refused with ErrJobFinalized.
func (r *Registry) Update(id string, fn func(*Job)) (*Job, error) {
	v, ok := r.jobs.Load(id)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.IsTerminal() {
		return e.job.clone(), fmt.Errorf("job %s: %w", id, ErrJobFinalized)
	}
	fn(e.job)
	now := time.Now()
	e.job.UpdatedAt = now
	if e.job.Status.IsTerminal() && e.job.CompletedAt == nil {
		e.job.CompletedAt = &now
	}
	return e.job.clone(), nil
}

// List returns snapshots of all jobs in insertion order.
func (r *Registry) List() []*Job {
	r.orderMu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.orderMu.RUnlock()

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.Get(id); ok {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// ByVideo returns snapshots of the jobs attached to a video, in insertion order.
func (r *Registry) ByVideo(videoID uint) []*Job {
	var out []*Job
	for _, j := range r.List() {
		if j.VideoID != nil && *j.VideoID == videoID {
			out = append(out, j)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.orderMu.RLock()
	defer r.orderMu.RUnlock()
	return len(r.order)
}
