package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/avelaz/genbridge/pkg/models"
)

// Registry tracks every task the service has accepted, keyed by job id.
// Reads return defensive clones so callers can never mutate shared state;
// writes go through clone-and-swap under the lock, which keeps partially
// updated tasks invisible to concurrent readers.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

func New() *Registry {
	return &Registry{
		tasks: make(map[string]*models.Task),
	}
}

// Add registers a new pending task. Adding an id twice is a programming
// error upstream; the newer entry wins and the old one is dropped.
func (r *Registry) Add(task *models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.JobID] = task.Clone()
}

// Get returns a clone of the task, or ErrTaskNotFound
func (r *Registry) Get(jobID string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[jobID]
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Update applies fn to a clone of the stored task and swaps the result in.
// Status changes are checked against the lifecycle: an update that would
// leave a terminal state is rejected and the stored task is untouched.
func (r *Registry) Update(jobID string, fn func(*models.Task)) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[jobID]
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	next := current.Clone()
	fn(next)

	if next.Status != current.Status {
		if err := models.ValidateTransition(current.Status, next.Status); err != nil {
			return nil, err
		}
	}

	r.tasks[jobID] = next
	return next.Clone(), nil
}

// SetStatus is the common update: move the task to status and stamp the
// transition time. Terminal statuses also record CompletedAt.
func (r *Registry) SetStatus(jobID string, status models.Status) (*models.Task, error) {
	now := time.Now()
	return r.Update(jobID, func(t *models.Task) {
		t.Status = status
		switch {
		case status == models.StatusRunning:
			t.StartedAt = &now
		case status.IsTerminal():
			t.CompletedAt = &now
		}
	})
}

// List returns clones of all tasks, newest first
func (r *Registry) List() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked tasks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Prune drops terminal tasks older than maxAge and returns how many went
func (r *Registry) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, task := range r.tasks {
		if !task.Status.IsTerminal() {
			continue
		}
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
