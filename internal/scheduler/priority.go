package scheduler

import (
	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

// SetPriority changes a task's priority and reconciles placement within
// the same event.
//
//   - A running task that is raised keeps its core.
//   - A running task moved to an equal or lower priority becomes ready at
//     the back of its new ring and its core is re-placed.
//   - A ready task that is raised preempts the lowest-priority running core
//     whose priority does not exceed the new one (highest index on ties).
//   - A ready task that is lowered or unchanged rejoins the back of its ring.
//   - A blocked task only records the new priority.
func (s *Scheduler) SetPriority(id model.TaskID, priority int) error {
	if err := s.cfg.CheckPriority(priority); err != nil {
		return err
	}
	return s.apply(model.EventSetPriority, id, priority, func(p *pending) error {
		t, err := s.reg.Lookup(id)
		if err != nil {
			return err
		}
		old := t.Priority
		s.logger.Debug("set priority", "task", id, "from", old, "to", priority, "state", t.State)

		switch t.State {
		case model.TaskStateRunning:
			if priority > old {
				t.Priority = priority
				return nil
			}
			if _, err := s.release(t.Core, model.TaskStateReady); err != nil {
				return err
			}
			s.requeue(t, priority)
			return s.reconcile()

		case model.TaskStateReady:
			if !s.ready.Remove(t) {
				return model.NewInvariantViolation("ready task %d missing from ring %d", t.ID, old)
			}
			if priority > old && s.started {
				if c, ok := s.cores.PreemptionTarget(priority, true); ok {
					t.Priority = priority
					if err := s.preempt(c, t); err != nil {
						return err
					}
					return s.reconcile()
				}
			}
			s.requeue(t, priority)
			return s.reconcile()

		default:
			t.Priority = priority
			return nil
		}
	})
}

// requeue queues a ready task at the back of the ring for priority.
func (s *Scheduler) requeue(t *registry.Task, priority int) {
	t.Priority = priority
	s.reg.Stamp(t)
	s.ready.PushBack(t)
}
