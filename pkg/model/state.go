package model

// TaskState represents the scheduling state of a Task.
type TaskState string

const (
	TaskStateReady   TaskState = "READY"
	TaskStateRunning TaskState = "RUNNING"
	TaskStateBlocked TaskState = "BLOCKED"
	TaskStateDeleted TaskState = "DELETED"
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// IsTerminal returns true if the task can no longer be scheduled.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateDeleted
}

// IsValid reports whether s is one of the known task states.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStateReady, TaskStateRunning, TaskStateBlocked, TaskStateDeleted:
		return true
	}
	return false
}

// ValidTaskTransitions defines the allowed state transitions for Tasks.
// Blocked is entered and left on behalf of an external wait subsystem.
var ValidTaskTransitions = map[TaskState][]TaskState{
	TaskStateReady:   {TaskStateRunning, TaskStateBlocked, TaskStateDeleted},
	TaskStateRunning: {TaskStateReady, TaskStateBlocked, TaskStateDeleted},
	TaskStateBlocked: {TaskStateReady, TaskStateDeleted},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EventKind identifies the external event a scheduling decision was made for.
type EventKind string

const (
	EventCreate      EventKind = "create"
	EventStart       EventKind = "start"
	EventTick        EventKind = "tick"
	EventSetPriority EventKind = "set_priority"
	EventDelete      EventKind = "delete"
	EventBlock       EventKind = "block"
	EventUnblock     EventKind = "unblock"
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	return string(k)
}
