package approvehook

import (
	"log/slog"
	"sync"
)

// Registry holds the tasks of the approvals in flight. It is owned by the
// caller that performs approvals and is cleared between batches with Reset.
// A second Install for the same key replaces the first.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[Key]Task
	logger *slog.Logger
}

// Option configures a Registry or Hook.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for registry and hook events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := applyOptions(opts)
	return &Registry{tasks: make(map[Key]Task), logger: o.logger}
}

// Install records task for key and reports whether an earlier task was
// replaced.
func (r *Registry) Install(key Key, task Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.tasks[key]
	if replaced {
		r.logger.Debug("approve hook task replaced", "key", key.String())
	}
	r.tasks[key] = task
	return replaced
}

// Lookup returns the task installed for key.
func (r *Registry) Lookup(key Key) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[key]
	return t, ok
}

// Remove deletes the task for key.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, key)
}

// Len returns the number of installed tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Reset drops every installed task.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.tasks)
}
