// Package registry owns task identity and per-task scheduling state.
package registry

import (
	"github.com/me/smpsched/pkg/model"
)

// Task is the scheduler's mutable record for one task. Only the scheduler
// mutates it, always under its lock.
type Task struct {
	ID       model.TaskID
	Name     string
	Priority int
	State    model.TaskState
	Core     int
	// Seq orders tasks within a priority level; lower means run less recently.
	Seq uint64
	// Context is the opaque value returned by the allocator.
	Context any
}

// View returns an immutable copy of the task.
func (t *Task) View() model.TaskView {
	return model.TaskView{
		ID:       t.ID,
		Name:     t.Name,
		Priority: t.Priority,
		State:    t.State,
		Core:     t.Core,
		Sequence: t.Seq,
	}
}

// Registry assigns task handles and rotation sequences.
type Registry struct {
	tasks   []*Task // indexed by ID; deleted entries remain as tombstones
	live    int
	nextSeq uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Create registers a Ready task with the next handle and a fresh sequence.
// It does not place the task.
func (r *Registry) Create(priority int, name string) *Task {
	t := &Task{
		ID:       model.TaskID(len(r.tasks)),
		Name:     name,
		Priority: priority,
		State:    model.TaskStateReady,
		Core:     model.NoCore,
	}
	r.Stamp(t)
	r.tasks = append(r.tasks, t)
	r.live++
	return t
}

// Lookup returns the live task for id.
func (r *Registry) Lookup(id model.TaskID) (*Task, error) {
	if id < 0 || int(id) >= len(r.tasks) {
		return nil, model.NewInvalidHandleError(id, "unknown task")
	}
	t := r.tasks[id]
	if t.State == model.TaskStateDeleted {
		return nil, model.NewInvalidHandleError(id, "task deleted")
	}
	return t, nil
}

// Stamp issues a fresh sequence to t, moving it behind every task
// stamped before.
func (r *Registry) Stamp(t *Task) {
	r.nextSeq++
	t.Seq = r.nextSeq
}

// Transition moves t to state to, validating against the task state table.
func (r *Registry) Transition(t *Task, to model.TaskState) error {
	if !t.State.CanTransitionTo(to) {
		return &model.InvalidTransitionError{ID: t.ID, From: t.State, To: to}
	}
	t.State = to
	return nil
}

// Delete marks t deleted. The handle stays reserved so later lookups
// report it as deleted rather than unknown.
func (r *Registry) Delete(t *Task) error {
	if err := r.Transition(t, model.TaskStateDeleted); err != nil {
		return err
	}
	t.Core = model.NoCore
	t.Context = nil
	r.live--
	return nil
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	return r.live
}

// Each calls fn for every live task in handle order.
func (r *Registry) Each(fn func(*Task)) {
	for _, t := range r.tasks {
		if t.State != model.TaskStateDeleted {
			fn(t)
		}
	}
}

// Count returns the number of live tasks in state s.
func (r *Registry) Count(s model.TaskState) int {
	n := 0
	r.Each(func(t *Task) {
		if t.State == s {
			n++
		}
	})
	return n
}
