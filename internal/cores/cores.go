// Package cores tracks which task each processor core is running.
package cores

import (
	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

// Table binds at most one task to each core.
type Table struct {
	bound      []*registry.Task
	accounting int
}

// New creates a table of n idle cores with the given accounting core.
func New(n, accounting int) *Table {
	return &Table{
		bound:      make([]*registry.Task, n),
		accounting: accounting,
	}
}

// Len returns the number of cores.
func (t *Table) Len() int {
	return len(t.bound)
}

// Accounting returns the index of the accounting core.
func (t *Table) Accounting() int {
	return t.accounting
}

// Bound returns the task on core c, or nil when idle.
func (t *Table) Bound(c int) *registry.Task {
	return t.bound[c]
}

// Bind places task on core c and returns the previously bound task.
// The task's Core field is updated; its state is left to the caller.
func (t *Table) Bind(c int, task *registry.Task) *registry.Task {
	prev := t.bound[c]
	if prev != nil {
		prev.Core = model.NoCore
	}
	t.bound[c] = task
	task.Core = c
	return prev
}

// Unbind idles core c and returns the task that was bound.
func (t *Table) Unbind(c int) *registry.Task {
	prev := t.bound[c]
	if prev != nil {
		prev.Core = model.NoCore
	}
	t.bound[c] = nil
	return prev
}

// FirstFree returns the lowest-indexed idle core.
func (t *Table) FirstFree() (int, bool) {
	for c, task := range t.bound {
		if task == nil {
			return c, true
		}
	}
	return 0, false
}

// CoresAt returns, in ascending order, the cores running a task of
// priority p, optionally leaving out the accounting core.
func (t *Table) CoresAt(p int, excludeAccounting bool) []int {
	var out []int
	for c, task := range t.bound {
		if task == nil || task.Priority != p {
			continue
		}
		if excludeAccounting && c == t.accounting {
			continue
		}
		out = append(out, c)
	}
	return out
}

// PreemptionTarget returns the core running the lowest-priority task that
// a task of priority limit may displace: strictly lower priority, or equal
// too when inclusive is set. Among equals the highest index wins, which is
// the most recently placed core.
func (t *Table) PreemptionTarget(limit int, inclusive bool) (int, bool) {
	best := -1
	for c, task := range t.bound {
		if task == nil {
			continue
		}
		if task.Priority > limit || (task.Priority == limit && !inclusive) {
			continue
		}
		if best < 0 || task.Priority <= t.bound[best].Priority {
			best = c
		}
	}
	return best, best >= 0
}

// LowestRunning returns the lowest priority among bound tasks.
func (t *Table) LowestRunning() (int, bool) {
	found := false
	lowest := 0
	for _, task := range t.bound {
		if task == nil {
			continue
		}
		if !found || task.Priority < lowest {
			lowest = task.Priority
			found = true
		}
	}
	return lowest, found
}

// Views returns a copy of the table for snapshots.
func (t *Table) Views() []model.CoreView {
	out := make([]model.CoreView, len(t.bound))
	for c, task := range t.bound {
		v := model.CoreView{Index: c, Task: model.NoTask, Accounting: c == t.accounting}
		if task != nil {
			v.Task = task.ID
			v.Priority = task.Priority
		}
		out[c] = v
	}
	return out
}
