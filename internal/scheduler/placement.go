package scheduler

import (
	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

// dispatch binds a ready task, already removed from its ring, to idle core c.
func (s *Scheduler) dispatch(c int, t *registry.Task) error {
	if prev := s.cores.Bound(c); prev != nil {
		return model.NewInvariantViolation("dispatch of task %d onto busy core %d (task %d)", t.ID, c, prev.ID)
	}
	if err := s.reg.Transition(t, model.TaskStateRunning); err != nil {
		return invariant(err)
	}
	s.cores.Bind(c, t)
	s.reg.Stamp(t)
	s.cur.note(c, nil, t)
	s.logger.Debug("dispatch", "core", c, "task", t.ID, "priority", t.Priority)
	return nil
}

// release idles core c, moving its task to state to. The task keeps its
// sequence and is not queued; callers decide where it goes next.
func (s *Scheduler) release(c int, to model.TaskState) (*registry.Task, error) {
	t := s.cores.Unbind(c)
	if t == nil {
		return nil, model.NewInvariantViolation("release of idle core %d", c)
	}
	if err := s.reg.Transition(t, to); err != nil {
		return nil, invariant(err)
	}
	s.cur.note(c, t, nil)
	return t, nil
}

// preempt displaces the task on core c in favour of t. The victim rejoins
// the back of its ring, behind t.
func (s *Scheduler) preempt(c int, t *registry.Task) error {
	victim, err := s.release(c, model.TaskStateReady)
	if err != nil {
		return err
	}
	if err := s.dispatch(c, t); err != nil {
		return err
	}
	s.reg.Stamp(victim)
	s.ready.PushBack(victim)
	s.logger.Debug("preempt", "core", c, "task", t.ID, "victim", victim.ID)
	return nil
}

// place fills idle cores, lowest index first, from the highest non-empty
// ring.
func (s *Scheduler) place() error {
	for {
		c, ok := s.cores.FirstFree()
		if !ok {
			return nil
		}
		p, ok := s.ready.Highest()
		if !ok {
			return nil
		}
		if err := s.dispatch(c, s.ready.PopFront(p)); err != nil {
			return err
		}
	}
}

// enforceDominance preempts running tasks while some ready task has a
// strictly higher priority. Each round raises the running set's priority
// sum, so it ends after at most one round per core.
func (s *Scheduler) enforceDominance() error {
	for {
		p, ok := s.ready.Highest()
		if !ok {
			return nil
		}
		c, ok := s.cores.PreemptionTarget(p, false)
		if !ok {
			return nil
		}
		if err := s.preempt(c, s.ready.PopFront(p)); err != nil {
			return err
		}
	}
}

// reconcile restores placement after any event that changed the ready or
// running sets. It is a no-op until Start.
func (s *Scheduler) reconcile() error {
	if !s.started {
		return nil
	}
	if err := s.place(); err != nil {
		return err
	}
	return s.enforceDominance()
}
