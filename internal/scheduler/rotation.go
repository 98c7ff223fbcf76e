package scheduler

import (
	"github.com/me/smpsched/pkg/model"
)

// contendedLevel returns the highest priority that has both a ready task
// and a task running on a core other than the accounting core.
func (s *Scheduler) contendedLevel() (int, bool) {
	for p := s.cfg.MaxPriority; p >= s.cfg.MinPriority; p-- {
		if s.ready.Len(p) == 0 {
			continue
		}
		if len(s.cores.CoresAt(p, true)) > 0 {
			return p, true
		}
	}
	return 0, false
}

// rotate applies one quantum of timeslicing at the contended level.
//
// Candidate cores are visited in ascending order. Each candidate's task is
// compared with the front of the ring: whichever ran less recently gets the
// core. A task kept in place is restamped. A task rotated out queues behind
// every task that was already waiting when the tick began; tasks rotated
// out in the same tick keep their dispatch order among themselves.
func (s *Scheduler) rotate() error {
	level, ok := s.contendedLevel()
	if !ok {
		return nil
	}
	// rotated counts the tasks at the back of the ring that this tick
	// displaced.
	rotated := 0
	for _, c := range s.cores.CoresAt(level, true) {
		own := s.cores.Bound(c)
		front := s.ready.Front(level)
		if front == nil || own.Seq < front.Seq {
			s.reg.Stamp(own)
			continue
		}
		if s.ready.Len(level) == rotated {
			rotated--
		}
		s.ready.PopFront(level)
		out, err := s.release(c, model.TaskStateReady)
		if err != nil {
			return err
		}
		s.ready.PushBackAmong(out, rotated)
		rotated++
		if err := s.dispatch(c, front); err != nil {
			return err
		}
	}
	return nil
}

// cursor returns the rotation candidate at level p whose task has been
// running longest. It is derived from the current bindings, so it always
// refers to a surviving candidate.
func (s *Scheduler) cursor(p int) (int, bool) {
	best := -1
	for _, c := range s.cores.CoresAt(p, true) {
		if best < 0 || s.cores.Bound(c).Seq < s.cores.Bound(best).Seq {
			best = c
		}
	}
	return best, best >= 0
}

// RotationCursor returns the core that rotation would displace first at
// priority p, or false when no core other than the accounting core runs a
// task at p.
func (s *Scheduler) RotationCursor(p int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor(p)
}

// Ticks returns the number of ticks applied since Start.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
