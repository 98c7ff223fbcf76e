package model

import "time"

// Switch records one change of a core's binding within an event.
type Switch struct {
	Core int    `json:"core"`
	From TaskID `json:"from"`
	To   TaskID `json:"to"`
}

// Event is emitted after each completed scheduling decision.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     EventKind `json:"kind"`
	Task     TaskID    `json:"task"`
	Priority int       `json:"priority,omitempty"`
	Tick     uint64    `json:"tick"`
	Switches []Switch  `json:"switches,omitempty"`
	At       time.Time `json:"at"`
}

// Run groups the events of one scheduler instance in the trace store.
type Run struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Cores          int       `json:"cores"`
	AccountingCore int       `json:"accounting_core"`
	MinPriority    int       `json:"min_priority"`
	MaxPriority    int       `json:"max_priority"`
	CreatedAt      time.Time `json:"created_at"`
	EventCount     int       `json:"event_count"`
}
