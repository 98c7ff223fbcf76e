package scheduler

import (
	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

// verify checks the structural and priority invariants after an event.
// Any failure is a defect in the scheduler, never repaired in place.
func (s *Scheduler) verify() error {
	for c := 0; c < s.cores.Len(); c++ {
		t := s.cores.Bound(c)
		if t == nil {
			continue
		}
		if t.State != model.TaskStateRunning || t.Core != c {
			return model.NewInvariantViolation("core %d bound to task %d in state %s on core %d", c, t.ID, t.State, t.Core)
		}
	}

	var err error
	s.reg.Each(func(t *registry.Task) {
		if err != nil {
			return
		}
		queued := s.ready.Contains(t)
		switch t.State {
		case model.TaskStateRunning:
			if t.Core < 0 || t.Core >= s.cores.Len() || s.cores.Bound(t.Core) != t {
				err = model.NewInvariantViolation("running task %d not bound to core %d", t.ID, t.Core)
			} else if queued {
				err = model.NewInvariantViolation("task %d both running on core %d and queued", t.ID, t.Core)
			}
		case model.TaskStateReady:
			if t.Core != model.NoCore || !queued {
				err = model.NewInvariantViolation("ready task %d: core %d, queued %v", t.ID, t.Core, queued)
			}
		case model.TaskStateBlocked:
			if t.Core != model.NoCore || queued {
				err = model.NewInvariantViolation("blocked task %d: core %d, queued %v", t.ID, t.Core, queued)
			}
		default:
			err = model.NewInvariantViolation("task %d in unknown state %q", t.ID, t.State)
		}
	})
	if err != nil {
		return err
	}
	s.ready.Each(func(t *registry.Task) {
		if err == nil && t.State != model.TaskStateReady {
			err = model.NewInvariantViolation("queued task %d in state %s", t.ID, t.State)
		}
	})
	if err != nil {
		return err
	}
	if n := s.reg.Count(model.TaskStateReady); n != s.ready.Total() {
		return model.NewInvariantViolation("%d ready tasks but %d queued entries", n, s.ready.Total())
	}

	if !s.started {
		return nil
	}
	hp, ok := s.ready.Highest()
	if !ok {
		return nil
	}
	if c, free := s.cores.FirstFree(); free {
		return model.NewInvariantViolation("core %d idle while priority %d task is ready", c, hp)
	}
	if lo, ok := s.cores.LowestRunning(); ok && hp > lo {
		return model.NewInvariantViolation("ready priority %d outranks running priority %d", hp, lo)
	}
	return nil
}
