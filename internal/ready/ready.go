// Package ready holds the priority-indexed rotation rings of ready tasks.
//
// Each ring is first in, first out: the front of a ring is always the task
// that has waited longest since it was last displaced.
package ready

import (
	"github.com/me/smpsched/internal/registry"
)

// Structure is one ring per priority in [min, max].
type Structure struct {
	min   int
	rings [][]*registry.Task
	total int
}

// New creates empty rings for priorities min..max inclusive.
func New(min, max int) *Structure {
	return &Structure{
		min:   min,
		rings: make([][]*registry.Task, max-min+1),
	}
}

func (s *Structure) ring(p int) []*registry.Task {
	i := p - s.min
	if i < 0 || i >= len(s.rings) {
		return nil
	}
	return s.rings[i]
}

// PushBack queues t at the back of the ring of t.Priority.
func (s *Structure) PushBack(t *registry.Task) {
	s.PushBackAmong(t, 0)
}

// PushBackAmong queues t behind every task of its ring except the last n,
// and among those n by t.Seq. Tasks displaced in the same tick use it to
// stay in dispatch order without overtaking older waiters.
func (s *Structure) PushBackAmong(t *registry.Task, n int) {
	i := t.Priority - s.min
	r := s.rings[i]
	pos := len(r)
	stop := len(r) - n
	if stop < 0 {
		stop = 0
	}
	for pos > stop && r[pos-1].Seq > t.Seq {
		pos--
	}
	r = append(r, nil)
	copy(r[pos+1:], r[pos:])
	r[pos] = t
	s.rings[i] = r
	s.total++
}

// Front returns the next task to run at priority p without removing it.
func (s *Structure) Front(p int) *registry.Task {
	r := s.ring(p)
	if len(r) == 0 {
		return nil
	}
	return r[0]
}

// PopFront removes and returns the front of ring p, or nil.
func (s *Structure) PopFront(p int) *registry.Task {
	t := s.Front(p)
	if t == nil {
		return nil
	}
	i := p - s.min
	s.rings[i][0] = nil
	s.rings[i] = s.rings[i][1:]
	s.total--
	return t
}

// Remove deletes t from its ring. It reports whether t was present.
func (s *Structure) Remove(t *registry.Task) bool {
	i := t.Priority - s.min
	if i < 0 || i >= len(s.rings) {
		return false
	}
	r := s.rings[i]
	for j, q := range r {
		if q == t {
			copy(r[j:], r[j+1:])
			r[len(r)-1] = nil
			s.rings[i] = r[:len(r)-1]
			s.total--
			return true
		}
	}
	return false
}

// Contains reports whether t is queued in the ring of its priority.
func (s *Structure) Contains(t *registry.Task) bool {
	for _, q := range s.ring(t.Priority) {
		if q == t {
			return true
		}
	}
	return false
}

// Len returns the number of ready tasks at priority p.
func (s *Structure) Len(p int) int {
	return len(s.ring(p))
}

// Total returns the number of ready tasks at every priority.
func (s *Structure) Total() int {
	return s.total
}

// Highest returns the highest priority with a non-empty ring.
func (s *Structure) Highest() (int, bool) {
	for i := len(s.rings) - 1; i >= 0; i-- {
		if len(s.rings[i]) > 0 {
			return s.min + i, true
		}
	}
	return 0, false
}

// Tasks returns a copy of ring p, front first.
func (s *Structure) Tasks(p int) []*registry.Task {
	r := s.ring(p)
	out := make([]*registry.Task, len(r))
	copy(out, r)
	return out
}

// Each calls fn for every ready task, highest priority first and front
// to back within a ring.
func (s *Structure) Each(fn func(*registry.Task)) {
	for i := len(s.rings) - 1; i >= 0; i-- {
		for _, t := range s.rings[i] {
			fn(t)
		}
	}
}
