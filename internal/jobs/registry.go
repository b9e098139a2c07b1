package jobs

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Registry owns every job record and the wait queue.
type Registry struct {
	mu         sync.Mutex
	maxRunning int
	records    map[string]*Record
	order      []string
	queue      []string
	now        func() time.Time
}

// NewRegistry builds a registry admitting at most maxRunning running jobs.
func NewRegistry(maxRunning int) *Registry {
	if maxRunning <= 0 {
		maxRunning = 1
	}
	return &Registry{
		maxRunning: maxRunning,
		records:    make(map[string]*Record),
		now:        time.Now,
	}
}

// MaxRunning reports the concurrency bound.
func (r *Registry) MaxRunning() int {
	return r.maxRunning
}

// Add stores a new record in the created state.
func (r *Registry) Add(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("add job: record requires an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("add job %s: %w", rec.ID, ErrDuplicateJob)
	}
	if rec.Status != StatusCreated {
		return &TransitionError{ID: rec.ID, From: rec.Status, To: StatusCreated}
	}
	if rec.Token == nil {
		rec.Token = NewCancelToken()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return nil
}

// Get returns a copy of the record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return snapshot(rec), true
}

// List returns copies of all records in creation order.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshot(r.records[id]))
	}
	return out
}

// Admit moves a created record to running when a slot is free, otherwise to
// queued at the tail of the wait queue. It returns the new status.
func (r *Registry) Admit(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return "", fmt.Errorf("admit %s: %w", id, ErrUnknownJob)
	}
	if rec.Status != StatusCreated {
		return rec.Status, &TransitionError{ID: id, From: rec.Status, To: StatusRunning}
	}
	if r.runningLocked() < r.maxRunning {
		r.setLocked(rec, StatusRunning)
	} else {
		r.setLocked(rec, StatusQueued)
		r.queue = append(r.queue, id)
	}
	return rec.Status, r.checkLocked()
}

// Complete moves a running record to a terminal status and, when a slot is
// free, promotes the head of the wait queue. At most one record is promoted
// per call; the promoted copy is returned with ok set.
func (r *Registry) Complete(id string, status Status, outcome Outcome) (promoted Record, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.records[id]
	if !exists {
		return Record{}, false, fmt.Errorf("complete %s: %w", id, ErrUnknownJob)
	}
	if rec.Status != StatusRunning || !status.IsTerminal() {
		return Record{}, false, &TransitionError{ID: id, From: rec.Status, To: status}
	}
	r.setLocked(rec, status)
	rec.FailedStage = outcome.FailedStage
	rec.ErrorDetail = outcome.ErrorDetail
	rec.Result = outcome.Result
	rec.CurrentStage = ""

	if len(r.queue) > 0 && r.runningLocked() < r.maxRunning {
		next := r.records[r.queue[0]]
		r.queue = slices.Delete(r.queue, 0, 1)
		r.setLocked(next, StatusRunning)
		promoted, ok = snapshot(next), true
	}
	return promoted, ok, r.checkLocked()
}

// Outcome carries what the execution unit learned about a finished job.
type Outcome struct {
	FailedStage string
	ErrorDetail string
	Result      Result
}

// CancelQueued cancels a queued record immediately and removes it from the
// wait queue. It reports false when the record was not queued.
func (r *Registry) CancelQueued(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false, fmt.Errorf("cancel %s: %w", id, ErrUnknownJob)
	}
	if rec.Status != StatusQueued {
		return false, nil
	}
	r.queue = slices.DeleteFunc(r.queue, func(queued string) bool { return queued == id })
	r.setLocked(rec, StatusCanceled)
	return true, r.checkLocked()
}

// SetStage records the stage a running job is executing.
func (r *Registry) SetStage(id, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok && rec.Status == StatusRunning {
		rec.CurrentStage = stage
	}
}

// RunningCount reports how many records are running.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

// QueueSnapshot returns the wait queue in promotion order.
func (r *Registry) QueueSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.queue)
}

// Reap drops terminal records that ended before the cutoff and returns their
// ids.
func (r *Registry) Reap(before time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		rec := r.records[id]
		if !rec.Status.IsTerminal() || rec.EndedAt.IsZero() || !rec.EndedAt.Before(before) {
			return false
		}
		delete(r.records, id)
		removed = append(removed, id)
		return true
	})
	return removed
}

func (r *Registry) setLocked(rec *Record, status Status) {
	now := r.now().UTC()
	rec.Status = status
	switch {
	case status == StatusRunning:
		rec.StartedAt = now
	case status.IsTerminal():
		rec.EndedAt = now
	}
}

func (r *Registry) runningLocked() int {
	n := 0
	for _, rec := range r.records {
		if rec.Status == StatusRunning {
			n++
		}
	}
	return n
}

func (r *Registry) checkLocked() error {
	if running := r.runningLocked(); running > r.maxRunning {
		return &RegistryInvariantError{
			Invariant: "concurrency_bound",
			Detail:    fmt.Sprintf("%d running jobs exceed the bound of %d", running, r.maxRunning),
		}
	}
	seen := make(map[string]struct{}, len(r.queue))
	for _, id := range r.queue {
		rec, ok := r.records[id]
		if !ok || rec.Status != StatusQueued {
			return &RegistryInvariantError{Invariant: "queue_membership", Detail: fmt.Sprintf("queue holds %s which is not queued", id)}
		}
		if _, dup := seen[id]; dup {
			return &RegistryInvariantError{Invariant: "queue_membership", Detail: fmt.Sprintf("queue holds %s twice", id)}
		}
		seen[id] = struct{}{}
	}
	for id, rec := range r.records {
		if _, inQueue := seen[id]; rec.Status == StatusQueued && !inQueue {
			return &RegistryInvariantError{Invariant: "queue_membership", Detail: fmt.Sprintf("%s is queued but missing from the queue", id)}
		}
	}
	return nil
}

func snapshot(rec *Record) Record {
	out := *rec
	out.Result.Stages = slices.Clone(rec.Result.Stages)
	out.Result.Outputs = slices.Clone(rec.Result.Outputs)
	out.Result.Artifacts = slices.Clone(rec.Result.Artifacts)
	return out
}
