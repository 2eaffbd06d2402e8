package taskapp

import (
	"maps"
	"slices"
	"sync"

	"github.com/hyp3rd/ewrap"
)

// taskRegistry maps task names to registered tasks.
type taskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		tasks: make(map[string]*Task),
	}
}

func (r *taskRegistry) register(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.spec.Name]; exists {
		return ewrap.Wrapf(ErrTaskAlreadyRegistered, "task %q", task.spec.Name)
	}

	r.tasks[task.spec.Name] = task

	return nil
}

// commit registers every task or none of them.
func (r *taskRegistry) commit(batch []*Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range batch {
		if _, exists := r.tasks[task.spec.Name]; exists {
			return ewrap.Wrapf(ErrTaskAlreadyRegistered, "task %q", task.spec.Name)
		}
	}

	for _, task := range batch {
		r.tasks[task.spec.Name] = task
	}

	return nil
}

func (r *taskRegistry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tasks[name]

	return ok
}

func (r *taskRegistry) lookup(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]

	return task, ok
}

// snapshot returns a copy of the registered tasks.
func (r *taskRegistry) snapshot() map[string]*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Task, len(r.tasks))
	maps.Copy(out, r.tasks)

	return out
}

func (r *taskRegistry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.tasks))
}
