package model

import (
	"fmt"
	"strings"
	"time"
)

// TaskID is the handle returned for a created task. IDs are dense and
// assigned in creation order starting at 0.
type TaskID int

// NoTask marks an idle core in context switches and views.
const NoTask TaskID = -1

// NoCore is the core index reported for tasks that are not running.
const NoCore = -1

// TaskView is an immutable copy of a task's scheduling state.
type TaskView struct {
	ID       TaskID    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Priority int       `json:"priority"`
	State    TaskState `json:"state"`
	Core     int       `json:"core"`
	Sequence uint64    `json:"sequence"`
}

// IsRunning reports whether the task is bound to a core.
func (v TaskView) IsRunning() bool {
	return v.State == TaskStateRunning
}

// CoreView describes the task bound to one core.
type CoreView struct {
	Index      int    `json:"index"`
	Task       TaskID `json:"task"`
	Priority   int    `json:"priority,omitempty"`
	Accounting bool   `json:"accounting,omitempty"`
}

// Idle reports whether no task is bound to the core.
func (c CoreView) Idle() bool {
	return c.Task == NoTask
}

// LevelView summarises one occupied priority level.
type LevelView struct {
	Priority int      `json:"priority"`
	Ready    []TaskID `json:"ready"`
	Running  []int    `json:"running_cores"`
	// Cursor is the core rotation displaces next at this level, or NoCore.
	Cursor int `json:"cursor"`
}

// Snapshot is a consistent copy of the whole scheduler state taken under
// a single lock acquisition.
type Snapshot struct {
	Started bool        `json:"started"`
	Ticks   uint64      `json:"ticks"`
	Cores   []CoreView  `json:"cores"`
	Tasks   []TaskView  `json:"tasks"`
	Levels  []LevelView `json:"levels"`
	TakenAt time.Time   `json:"taken_at"`
}

// Task returns the view for id, if present.
func (s *Snapshot) Task(id TaskID) (TaskView, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskView{}, false
}

// Summary counts tasks per state.
func (s *Snapshot) Summary() map[TaskState]int {
	out := make(map[TaskState]int)
	for _, t := range s.Tasks {
		out[t.State]++
	}
	return out
}

// Placement renders core bindings and ready rings compactly, for example
// "cores [0:T0 1:T3 2:-] ready {p2:[T2] p1:[T4]}".
func (s *Snapshot) Placement() string {
	var b strings.Builder
	b.WriteString("cores [")
	for i, c := range s.Cores {
		if i > 0 {
			b.WriteByte(' ')
		}
		if c.Idle() {
			fmt.Fprintf(&b, "%d:-", c.Index)
		} else {
			fmt.Fprintf(&b, "%d:T%d", c.Index, c.Task)
		}
	}
	b.WriteString("] ready {")
	first := true
	for _, l := range s.Levels {
		if len(l.Ready) == 0 {
			continue
		}
		if !first {
			b.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&b, "p%d:[", l.Priority)
		for i, id := range l.Ready {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "T%d", id)
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return b.String()
}
