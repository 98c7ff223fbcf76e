package scheduler

import (
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/me/smpsched/pkg/model"
)

// checkDominance asserts the placement properties that must hold after
// every event once the scheduler has started.
func checkDominance(t *testing.T, snap model.Snapshot) {
	t.Helper()
	lowestRunning := -1
	running := 0
	for _, c := range snap.Cores {
		if c.Idle() {
			continue
		}
		running++
		if lowestRunning < 0 || c.Priority < lowestRunning {
			lowestRunning = c.Priority
		}
	}
	top := -1
	for _, v := range snap.Tasks {
		if v.State != model.TaskStateReady && v.State != model.TaskStateRunning {
			continue
		}
		if v.Priority > top {
			top = v.Priority
		}
		if v.State == model.TaskStateReady {
			if running < len(snap.Cores) {
				t.Fatalf("task %d ready with an idle core", v.ID)
			}
			if v.Priority > lowestRunning {
				t.Fatalf("ready task %d (priority %d) outranks running priority %d", v.ID, v.Priority, lowestRunning)
			}
		}
	}
	if top < 0 {
		return
	}
	contenders, atTop := 0, 0
	for _, v := range snap.Tasks {
		if v.Priority != top {
			continue
		}
		switch v.State {
		case model.TaskStateRunning:
			contenders++
			atTop++
		case model.TaskStateReady:
			contenders++
		}
	}
	if want := min(len(snap.Cores), contenders); atTop != want {
		t.Fatalf("%d running at top priority %d, want %d", atTop, top, want)
	}
}

func TestRandomEvents_PreserveInvariants(t *testing.T) {
	for n := 2; n <= 6; n++ {
		rng := rand.New(rand.NewSource(int64(n)))
		s := testSetup(t, n)
		var ids []model.TaskID
		for i := 0; i < n+3; i++ {
			ids = append(ids, mustCreate(t, s, rng.Intn(4)))
		}
		mustStart(t, s)
		checkDominance(t, s.Snapshot())

		for step := 0; step < 500; step++ {
			var err error
			switch op := rng.Intn(10); {
			case op < 4:
				err = s.Tick()
			case op < 6:
				err = s.SetPriority(ids[rng.Intn(len(ids))], rng.Intn(4))
			case op == 6:
				var id model.TaskID
				id, err = s.Create(rng.Intn(4))
				if err == nil {
					ids = append(ids, id)
				}
			case op == 7:
				err = s.Delete(ids[rng.Intn(len(ids))])
			case op == 8:
				err = s.Block(ids[rng.Intn(len(ids))])
			default:
				err = s.Unblock(ids[rng.Intn(len(ids))])
			}
			if err != nil && !errors.Is(err, model.InvalidHandle) && !errors.Is(err, model.InvalidState) {
				t.Fatalf("N=%d step %d: %v", n, step, err)
			}
			checkDominance(t, s.Snapshot())
		}
	}
}

func TestTicks_NeverMoveAccountingCore(t *testing.T) {
	for n := 2; n <= 6; n++ {
		s := testSetup(t, n)
		for i := 0; i < 3*n; i++ {
			mustCreate(t, s, 1)
		}
		mustCreate(t, s, 0)
		mustStart(t, s)
		// Start switches every core, so only register interest afterwards.
		s.hooks = append(s.hooks, SwitchFunc(func(core int, from, to model.TaskID) {
			if core == 0 {
				t.Errorf("N=%d: accounting core switched %d -> %d on a tick", n, from, to)
			}
		}))
		for i := 0; i < 5*n; i++ {
			mustTick(t, s)
		}
	}
}

func readyAt(snap model.Snapshot, p int) []model.TaskID {
	for _, lv := range snap.Levels {
		if lv.Priority == p {
			return lv.Ready
		}
	}
	return nil
}

func TestRotation_FIFOFairness(t *testing.T) {
	s := testSetup(t, 4)
	for i := 0; i < 7; i++ {
		mustCreate(t, s, 1)
	}
	mustStart(t, s)

	// A higher task preempts core 3; its victim waits behind the ring.
	high := mustCreate(t, s, 2)
	verifyTask(t, s, high, model.TaskStateRunning, 3)
	if got, want := readyAt(s.Snapshot(), 1), []model.TaskID{4, 5, 6, 3}; !slices.Equal(got, want) {
		t.Fatalf("ring after preemption = %v, want %v", got, want)
	}

	// Each tick hands cores 1 and 2 to the two longest waiters, and the
	// displaced tasks join the back in core order.
	for tick := 1; tick <= 12; tick++ {
		before := s.Snapshot()
		ring := readyAt(before, 1)
		c1, c2 := before.Cores[1].Task, before.Cores[2].Task

		mustTick(t, s)

		after := s.Snapshot()
		if after.Cores[1].Task != ring[0] || after.Cores[2].Task != ring[1] {
			t.Fatalf("tick %d: cores 1,2 = %d,%d, want %d,%d (ring %v)",
				tick, after.Cores[1].Task, after.Cores[2].Task, ring[0], ring[1], ring)
		}
		want := append(slices.Clone(ring[2:]), c1, c2)
		if got := readyAt(after, 1); !slices.Equal(got, want) {
			t.Fatalf("tick %d: ring = %v, want %v", tick, got, want)
		}
		if after.Cores[0].Task != 0 || after.Cores[3].Task != high {
			t.Fatalf("tick %d: %s", tick, after.Placement())
		}
	}
}

func TestRotation_PreemptedWaiterRunsBeforeRotatedTask(t *testing.T) {
	s := testSetup(t, 3)
	var ids []model.TaskID
	for i := 0; i < 4; i++ {
		ids = append(ids, mustCreate(t, s, 1))
	}
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]
	mustStart(t, s)

	mustCreate(t, s, 2)
	if got := readyAt(s.Snapshot(), 1); !slices.Equal(got, []model.TaskID{d, c}) {
		t.Fatalf("ring = %v, want [%d %d]", got, d, c)
	}

	mustTick(t, s)
	verifyTask(t, s, d, model.TaskStateRunning, 1)
	if got := readyAt(s.Snapshot(), 1); !slices.Equal(got, []model.TaskID{c, b}) {
		t.Fatalf("ring after tick 1 = %v, want [%d %d]", got, c, b)
	}

	mustTick(t, s)
	verifyTask(t, s, c, model.TaskStateRunning, 1)
	verifyTask(t, s, b, model.TaskStateReady, model.NoCore)

	mustTick(t, s)
	verifyTask(t, s, b, model.TaskStateRunning, 1)
	verifyTask(t, s, a, model.TaskStateRunning, 0)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingObserver) ObserveEvent(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestObserver_EventOrderAndSwitches(t *testing.T) {
	obs := &recordingObserver{}
	s := testSetup(t, 2, WithObserver(obs))
	a := mustCreate(t, s, 1)
	mustCreate(t, s, 1)
	c := mustCreate(t, s, 1)
	mustStart(t, s)
	mustTick(t, s)
	if err := s.Delete(a); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	kinds := []model.EventKind{model.EventCreate, model.EventCreate, model.EventCreate, model.EventStart, model.EventTick, model.EventDelete}
	if len(obs.events) != len(kinds) {
		t.Fatalf("got %d events, want %d", len(obs.events), len(kinds))
	}
	for i, ev := range obs.events {
		if ev.Kind != kinds[i] || ev.Seq != uint64(i+1) {
			t.Errorf("event %d = (%s, seq %d), want (%s, seq %d)", i, ev.Kind, ev.Seq, kinds[i], i+1)
		}
	}

	start := obs.events[3]
	if len(start.Switches) != 2 || start.Switches[0].From != model.NoTask || start.Switches[0].To != a {
		t.Errorf("start switches = %+v", start.Switches)
	}
	tick := obs.events[4]
	if len(tick.Switches) != 1 || tick.Switches[0].Core != 1 || tick.Switches[0].To != c {
		t.Errorf("tick switches = %+v", tick.Switches)
	}
	if tick.Tick != 1 {
		t.Errorf("tick event Tick = %d, want 1", tick.Tick)
	}
	del := obs.events[5]
	if del.Task != a || len(del.Switches) != 1 || del.Switches[0].Core != 0 || del.Switches[0].From != a {
		t.Errorf("delete event = %+v", del)
	}
}

func TestSwitchHook_CoalescesWithinEvent(t *testing.T) {
	var got []model.Switch
	hook := SwitchFunc(func(core int, from, to model.TaskID) {
		got = append(got, model.Switch{Core: core, From: from, To: to})
	})
	s := testSetup(t, 1, WithSwitchHook(hook))
	a := mustCreate(t, s, 1)
	mustStart(t, s)
	got = nil

	// Lowering the only task releases and rebinds the same core: no switch.
	if err := s.SetPriority(a, 0); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("switches = %+v, want none", got)
	}
}

func TestSwitchHook_RunsWithoutDecisionLock(t *testing.T) {
	var s *Scheduler
	calls := 0
	s = testSetup(t, 2, WithSwitchHook(SwitchFunc(func(core int, from, to model.TaskID) {
		// Re-entering a query would deadlock if the lock were held.
		_ = s.Snapshot()
		calls++
	})))
	mustCreate(t, s, 1)
	mustCreate(t, s, 1)
	mustStart(t, s)
	if calls != 2 {
		t.Errorf("hook calls = %d, want 2", calls)
	}
}

type queryingObserver struct {
	s       *Scheduler
	started []bool
}

func (o *queryingObserver) ObserveEvent(ev model.Event) {
	snap := o.s.Snapshot()
	o.started = append(o.started, snap.Started)
}

func TestObserver_MayQueryScheduler(t *testing.T) {
	obs := &queryingObserver{}
	s := testSetup(t, 2, WithObserver(obs))
	obs.s = s

	mustCreate(t, s, 1)
	mustStart(t, s)
	if !slices.Equal(obs.started, []bool{false, true}) {
		t.Errorf("started seen by observer = %v, want [false true]", obs.started)
	}
}

type failingAllocator struct {
	released []model.TaskID
}

func (f *failingAllocator) Allocate(name string, priority int) (any, error) {
	if priority > 5 {
		return nil, errors.New("out of stack memory")
	}
	return name, nil
}

func (f *failingAllocator) Release(id model.TaskID, ctx any) {
	f.released = append(f.released, id)
}

func TestAllocator(t *testing.T) {
	alloc := &failingAllocator{}
	s := testSetup(t, 1, WithAllocator(alloc))

	if _, err := s.Create(9); err == nil {
		t.Fatal("Create with failing allocator: want error")
	}
	id, err := s.Create(1, WithName("worker"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v, _ := s.Task(id)
	if v.Name != "worker" {
		t.Errorf("name = %q, want worker", v.Name)
	}
	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(alloc.released) != 1 || alloc.released[0] != id {
		t.Errorf("released = %v, want [%d]", alloc.released, id)
	}
}
