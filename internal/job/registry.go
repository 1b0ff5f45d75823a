package job

import (
	"context"
	"sync"
)

// Registry tracks jobs that are currently running so they can be
// cancelled. Entries are removed when the coordinator exits.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]context.CancelFunc),
	}
}

// Add registers a running job with its cancel function. It returns
// false if the job is already registered.
func (r *Registry) Add(jobID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[jobID]; exists {
		return false
	}
	r.active[jobID] = cancel
	return true
}

// Remove unregisters a job. Safe to call for unknown IDs.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Cancel cancels a running job. It returns false when the job is not
// currently active.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// IsActive reports whether a job is currently running
func (r *Registry) IsActive(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

// Count returns the number of running jobs
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CancelAll cancels every running job, used during shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.active))
	for _, cancel := range r.active {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
