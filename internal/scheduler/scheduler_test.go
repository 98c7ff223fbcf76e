package scheduler

import (
	"errors"
	"testing"

	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/pkg/model"
)

const testCores = 4

// testSetup returns an unstarted scheduler with n cores, accounting core 0,
// and priorities 0..31.
func testSetup(t *testing.T, n int, opts ...Option) *Scheduler {
	t.Helper()
	cfg := config.DefaultSchedulerConfig()
	cfg.Cores = n
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Scheduler, priority int) model.TaskID {
	t.Helper()
	id, err := s.Create(priority)
	if err != nil {
		t.Fatalf("Create(%d): %v", priority, err)
	}
	return id
}

func mustStart(t *testing.T, s *Scheduler) {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func mustTick(t *testing.T, s *Scheduler) {
	t.Helper()
	if err := s.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

// verifyTask asserts that a task is in state want on core (NoCore unless
// running).
func verifyTask(t *testing.T, s *Scheduler, id model.TaskID, want model.TaskState, core int) {
	t.Helper()
	state, got, err := s.Query(id)
	if err != nil {
		t.Fatalf("Query(%d): %v", id, err)
	}
	if state != want || got != core {
		t.Errorf("task %d = (%s, core %d), want (%s, core %d)", id, state, got, want, core)
	}
}

// verifyTrajectory ticks once per entry of cores and checks task id after
// each tick. model.NoCore means Ready.
func verifyTrajectory(t *testing.T, s *Scheduler, id model.TaskID, cores []int) {
	t.Helper()
	for i, c := range cores {
		mustTick(t, s)
		state := model.TaskStateRunning
		if c == model.NoCore {
			state = model.TaskStateReady
		}
		st, got, err := s.Query(id)
		if err != nil {
			t.Fatalf("tick %d: Query(%d): %v", i+1, id, err)
		}
		if st != state || got != c {
			t.Errorf("tick %d: task %d = (%s, core %d), want (%s, core %d)", i+1, id, st, got, state, c)
		}
	}
}

// startMixed creates one priority-2 task and n-1 priority-1 tasks, plus an
// extra priority-1 task when extra is set, then starts the scheduler.
func startMixed(t *testing.T, s *Scheduler, extra bool) []model.TaskID {
	t.Helper()
	ids := []model.TaskID{mustCreate(t, s, 2)}
	for i := 1; i < testCores; i++ {
		ids = append(ids, mustCreate(t, s, 1))
	}
	if extra {
		ids = append(ids, mustCreate(t, s, 1))
	}
	mustStart(t, s)
	for i := 0; i < testCores; i++ {
		verifyTask(t, s, ids[i], model.TaskStateRunning, i)
	}
	if extra {
		verifyTask(t, s, ids[testCores], model.TaskStateReady, model.NoCore)
	}
	return ids
}

func TestTimeslice_EqualPriority(t *testing.T) {
	s := testSetup(t, testCores)
	var ids []model.TaskID
	for i := 0; i < testCores+1; i++ {
		ids = append(ids, mustCreate(t, s, 2))
	}
	low := mustCreate(t, s, 1)
	mustStart(t, s)

	for i := 0; i < testCores; i++ {
		verifyTask(t, s, ids[i], model.TaskStateRunning, i)
	}
	verifyTask(t, s, ids[testCores], model.TaskStateReady, model.NoCore)
	verifyTask(t, s, low, model.TaskStateReady, model.NoCore)

	for i, want := range []int{1, 2, 3, model.NoCore} {
		mustTick(t, s)
		state := model.TaskStateRunning
		if want == model.NoCore {
			state = model.TaskStateReady
		}
		verifyTask(t, s, ids[testCores], state, want)
		verifyTask(t, s, low, model.TaskStateReady, model.NoCore)
		verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
		if got := s.Ticks(); got != uint64(i+1) {
			t.Errorf("Ticks() = %d, want %d", got, i+1)
		}
	}
}

func TestTimeslice_LowerLevelRotatesAroundHigherTask(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, true)

	for _, want := range []int{1, 2, 3, model.NoCore} {
		mustTick(t, s)
		verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
		state := model.TaskStateRunning
		if want == model.NoCore {
			state = model.TaskStateReady
		}
		verifyTask(t, s, ids[testCores], state, want)
	}
}

func TestTimeslice_RaiseToRunningLevel(t *testing.T) {
	s := testSetup(t, testCores)
	var ids []model.TaskID
	for i := 0; i < testCores; i++ {
		ids = append(ids, mustCreate(t, s, 2))
	}
	low := mustCreate(t, s, 1)
	mustStart(t, s)

	// No contention: the low task never runs.
	for i := 0; i < testCores; i++ {
		mustTick(t, s)
		for j := 0; j < testCores; j++ {
			verifyTask(t, s, ids[j], model.TaskStateRunning, j)
		}
		verifyTask(t, s, low, model.TaskStateReady, model.NoCore)
	}

	if err := s.SetPriority(low, 2); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	// Preempts the most recently placed core within the same event.
	verifyTask(t, s, low, model.TaskStateRunning, testCores-1)
	verifyTask(t, s, ids[testCores-1], model.TaskStateReady, model.NoCore)

	verifyTrajectory(t, s, low, []int{3, model.NoCore, 1, 2})
	verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
}

func TestTimeslice_LowerReadyTaskStaysReady(t *testing.T) {
	s := testSetup(t, testCores)
	var ids []model.TaskID
	for i := 0; i < testCores+1; i++ {
		ids = append(ids, mustCreate(t, s, 2))
	}
	mustStart(t, s)
	verifyTrajectory(t, s, ids[testCores], []int{1, 2, 3, model.NoCore})

	if err := s.SetPriority(ids[testCores], 1); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	before := make(map[model.TaskID]int)
	for i := 0; i < testCores; i++ {
		_, c, _ := s.Query(ids[i])
		before[ids[i]] = c
	}
	for i := 0; i < testCores; i++ {
		mustTick(t, s)
		for id, c := range before {
			verifyTask(t, s, id, model.TaskStateRunning, c)
		}
		verifyTask(t, s, ids[testCores], model.TaskStateReady, model.NoCore)
	}
}

func TestTimeslice_LowerRunningTaskOnAccountingCore(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, true)
	verifyTrajectory(t, s, ids[testCores], []int{1, 2, 3, model.NoCore})

	if err := s.SetPriority(ids[0], 1); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	// The vacated core is refilled from the front of the ring at once.
	verifyTask(t, s, ids[testCores], model.TaskStateRunning, 0)
	verifyTask(t, s, ids[0], model.TaskStateReady, model.NoCore)

	verifyTrajectory(t, s, ids[0], []int{model.NoCore, 1, 2, 3})
	verifyTask(t, s, ids[testCores], model.TaskStateRunning, 0)
}

func TestTimeslice_RaiseAboveLowerLevel(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, true)
	verifyTrajectory(t, s, ids[testCores], []int{1, 2, 3, model.NoCore})

	if err := s.SetPriority(ids[testCores], 2); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	verifyTask(t, s, ids[testCores], model.TaskStateRunning, testCores-1)
	verifyTask(t, s, ids[testCores-1], model.TaskStateReady, model.NoCore)

	want := []int{model.NoCore, 1, 2, model.NoCore}
	for i, c := range want {
		mustTick(t, s)
		verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
		verifyTask(t, s, ids[testCores], model.TaskStateRunning, testCores-1)
		state := model.TaskStateRunning
		if c == model.NoCore {
			state = model.TaskStateReady
		}
		st, got, _ := s.Query(ids[testCores-1])
		if st != state || got != c {
			t.Errorf("tick %d: displaced task = (%s, %d), want (%s, %d)", i+1, st, got, state, c)
		}
	}
}

func TestTimeslice_CreateAfterStart(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, false)
	for i := 0; i < testCores; i++ {
		mustTick(t, s)
		for j := 0; j < testCores; j++ {
			verifyTask(t, s, ids[j], model.TaskStateRunning, j)
		}
	}

	late := mustCreate(t, s, 1)
	verifyTask(t, s, late, model.TaskStateReady, model.NoCore)
	for i, c := range []int{model.NoCore, 1, 2, 3} {
		mustTick(t, s)
		verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
		state := model.TaskStateRunning
		if c == model.NoCore {
			state = model.TaskStateReady
		}
		st, got, _ := s.Query(late)
		if st != state || got != c {
			t.Errorf("tick %d: late task = (%s, %d), want (%s, %d)", i+1, st, got, state, c)
		}
	}
}

func TestTimeslice_CreateHigherAfterStart(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, false)
	for i := 0; i < testCores; i++ {
		mustTick(t, s)
	}

	late := mustCreate(t, s, 2)
	verifyTask(t, s, late, model.TaskStateRunning, testCores-1)
	verifyTask(t, s, ids[testCores-1], model.TaskStateReady, model.NoCore)

	for i, c := range []int{model.NoCore, 1, 2, model.NoCore} {
		mustTick(t, s)
		verifyTask(t, s, late, model.TaskStateRunning, testCores-1)
		verifyTask(t, s, ids[0], model.TaskStateRunning, 0)
		state := model.TaskStateRunning
		if c == model.NoCore {
			state = model.TaskStateReady
		}
		st, got, _ := s.Query(ids[testCores-1])
		if st != state || got != c {
			t.Errorf("tick %d: displaced task = (%s, %d), want (%s, %d)", i+1, st, got, state, c)
		}
	}
}

func TestTimeslice_DeleteAfterRotation(t *testing.T) {
	s := testSetup(t, testCores)
	ids := startMixed(t, s, true)
	verifyTrajectory(t, s, ids[testCores], []int{1, 2, 3, model.NoCore})

	if err := s.Delete(ids[testCores]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, _, err := s.Query(ids[testCores])
	if !errors.Is(err, model.InvalidHandle) {
		t.Fatalf("Query deleted task: err = %v, want InvalidHandle", err)
	}
	for i := 0; i < testCores; i++ {
		verifyTask(t, s, ids[i], model.TaskStateRunning, i)
	}
	// Nothing left to rotate.
	for i := 0; i < testCores; i++ {
		mustTick(t, s)
		for j := 0; j < testCores; j++ {
			verifyTask(t, s, ids[j], model.TaskStateRunning, j)
		}
	}
}

func TestDelete_RunningTaskRefilledInSameEvent(t *testing.T) {
	s := testSetup(t, testCores)
	var ids []model.TaskID
	for i := 0; i < testCores+2; i++ {
		ids = append(ids, mustCreate(t, s, 3))
	}
	mustStart(t, s)

	if err := s.Delete(ids[2]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	verifyTask(t, s, ids[testCores], model.TaskStateRunning, 2)
	verifyTask(t, s, ids[testCores+1], model.TaskStateReady, model.NoCore)

	if c, ok := s.RotationCursor(3); !ok || c == 0 {
		t.Errorf("RotationCursor(3) = (%d, %v), want a non-accounting core", c, ok)
	}
	if err := s.Delete(ids[2]); !errors.Is(err, model.InvalidHandle) {
		t.Errorf("second Delete: err = %v, want InvalidHandle", err)
	}
}

func TestDelete_AccountingCoreTask(t *testing.T) {
	s := testSetup(t, 2)
	a := mustCreate(t, s, 5)
	b := mustCreate(t, s, 5)
	c := mustCreate(t, s, 1)
	mustStart(t, s)

	if err := s.Delete(a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	verifyTask(t, s, c, model.TaskStateRunning, 0)
	verifyTask(t, s, b, model.TaskStateRunning, 1)
}

func TestCreate_BeforeStartDoesNotPlace(t *testing.T) {
	s := testSetup(t, 2)
	id := mustCreate(t, s, 7)
	verifyTask(t, s, id, model.TaskStateReady, model.NoCore)
	if s.Started() {
		t.Error("Started() = true before Start")
	}
	mustStart(t, s)
	verifyTask(t, s, id, model.TaskStateRunning, 0)
	if !s.Started() {
		t.Error("Started() = false after Start")
	}
}

func TestCreate_AfterStartFillsIdleCore(t *testing.T) {
	s := testSetup(t, 3)
	mustStart(t, s)
	a := mustCreate(t, s, 1)
	b := mustCreate(t, s, 1)
	verifyTask(t, s, a, model.TaskStateRunning, 0)
	verifyTask(t, s, b, model.TaskStateRunning, 1)
}

func TestSetPriority_RaiseRunningKeepsCore(t *testing.T) {
	s := testSetup(t, 2)
	a := mustCreate(t, s, 1)
	b := mustCreate(t, s, 1)
	c := mustCreate(t, s, 1)
	mustStart(t, s)

	if err := s.SetPriority(b, 9); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	verifyTask(t, s, b, model.TaskStateRunning, 1)
	verifyTask(t, s, a, model.TaskStateRunning, 0)
	verifyTask(t, s, c, model.TaskStateReady, model.NoCore)
	v, _ := s.Task(b)
	if v.Priority != 9 {
		t.Errorf("priority = %d, want 9", v.Priority)
	}
}

func TestSetPriority_RaiseReadyAboveAll(t *testing.T) {
	s := testSetup(t, 3)
	var ids []model.TaskID
	for _, p := range []int{4, 2, 3, 1} {
		ids = append(ids, mustCreate(t, s, p))
	}
	mustStart(t, s)
	verifyTask(t, s, ids[3], model.TaskStateReady, model.NoCore)

	if err := s.SetPriority(ids[3], 10); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	// Start placed priorities 4, 3, 2 on cores 0, 1, 2; priority 2 is displaced.
	verifyTask(t, s, ids[2], model.TaskStateRunning, 1)
	verifyTask(t, s, ids[3], model.TaskStateRunning, 2)
	verifyTask(t, s, ids[1], model.TaskStateReady, model.NoCore)
}

func TestSetPriority_BlockedOnlyStores(t *testing.T) {
	s := testSetup(t, 1)
	a := mustCreate(t, s, 1)
	b := mustCreate(t, s, 1)
	mustStart(t, s)
	if err := s.Block(b); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := s.SetPriority(b, 20); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	verifyTask(t, s, b, model.TaskStateBlocked, model.NoCore)
	verifyTask(t, s, a, model.TaskStateRunning, 0)

	if err := s.Unblock(b); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	verifyTask(t, s, b, model.TaskStateRunning, 0)
	verifyTask(t, s, a, model.TaskStateReady, model.NoCore)
}

func TestSetPriority_Errors(t *testing.T) {
	s := testSetup(t, 2)
	id := mustCreate(t, s, 1)

	if err := s.SetPriority(id, 99); !errors.Is(err, model.ConfigurationError) {
		t.Errorf("out of range: err = %v, want ConfigurationError", err)
	}
	if err := s.SetPriority(42, 1); !errors.Is(err, model.InvalidHandle) {
		t.Errorf("unknown task: err = %v, want InvalidHandle", err)
	}
}

func TestBlock_FreesCore(t *testing.T) {
	s := testSetup(t, 2)
	a := mustCreate(t, s, 3)
	b := mustCreate(t, s, 3)
	c := mustCreate(t, s, 2)
	mustStart(t, s)

	if err := s.Block(a); err != nil {
		t.Fatalf("Block: %v", err)
	}
	verifyTask(t, s, a, model.TaskStateBlocked, model.NoCore)
	verifyTask(t, s, c, model.TaskStateRunning, 0)
	verifyTask(t, s, b, model.TaskStateRunning, 1)

	if err := s.Block(a); !errors.Is(err, model.InvalidState) {
		t.Errorf("Block twice: err = %v, want InvalidState", err)
	}
	if err := s.Unblock(b); !errors.Is(err, model.InvalidState) {
		t.Errorf("Unblock running: err = %v, want InvalidState", err)
	}

	// Unblocking a higher task preempts the lower one in the same event.
	if err := s.Unblock(a); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	verifyTask(t, s, a, model.TaskStateRunning, 0)
	verifyTask(t, s, c, model.TaskStateReady, model.NoCore)
}

func TestBlock_ReadyTask(t *testing.T) {
	s := testSetup(t, 1)
	mustCreate(t, s, 1)
	b := mustCreate(t, s, 1)
	mustStart(t, s)
	if err := s.Block(b); err != nil {
		t.Fatalf("Block: %v", err)
	}
	verifyTask(t, s, b, model.TaskStateBlocked, model.NoCore)
	if err := s.Delete(b); err != nil {
		t.Fatalf("Delete blocked: %v", err)
	}
}

func TestLifecycleErrors(t *testing.T) {
	s := testSetup(t, 2)
	if err := s.Tick(); !errors.Is(err, model.NotStarted) {
		t.Errorf("Tick before Start: err = %v, want NotStarted", err)
	}
	mustStart(t, s)
	if err := s.Start(); !errors.Is(err, model.AlreadyStarted) {
		t.Errorf("second Start: err = %v, want AlreadyStarted", err)
	}
	if _, err := s.Create(-1); !errors.Is(err, model.ConfigurationError) {
		t.Errorf("Create(-1): err = %v, want ConfigurationError", err)
	}
	if _, _, err := s.Query(model.NoTask); !errors.Is(err, model.InvalidHandle) {
		t.Errorf("Query(NoTask): err = %v, want InvalidHandle", err)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v after caller errors, want nil", err)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.SchedulerConfig)
	}{
		{"zero cores", func(c *config.SchedulerConfig) { c.Cores = 0 }},
		{"accounting out of range", func(c *config.SchedulerConfig) { c.AccountingCore = 4 }},
		{"empty range", func(c *config.SchedulerConfig) { c.MinPriority, c.MaxPriority = 5, 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultSchedulerConfig()
			tt.edit(&cfg)
			if _, err := New(cfg); !errors.Is(err, model.ConfigurationError) {
				t.Errorf("New: err = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestInvariantViolationHalts(t *testing.T) {
	s := testSetup(t, 2)
	mustCreate(t, s, 2)
	mustCreate(t, s, 2)
	mustStart(t, s)

	// Corrupt state: queue a running task.
	s.mu.Lock()
	s.ready.PushBack(s.cores.Bound(1))
	s.mu.Unlock()

	id, err := s.Create(0)
	if !errors.Is(err, model.InvariantViolation) {
		t.Fatalf("Create after corruption: err = %v, want InvariantViolation", err)
	}
	if id != model.NoTask {
		t.Errorf("Create after corruption: id = %d, want NoTask", id)
	}
	if err := s.Err(); !errors.Is(err, model.InvariantViolation) {
		t.Errorf("Err() = %v, want InvariantViolation", err)
	}
	if err := s.Tick(); !errors.Is(err, model.InvariantViolation) {
		t.Errorf("Tick after halt: err = %v, want InvariantViolation", err)
	}
}

func TestBlock_ReadyTaskMissingFromRingHalts(t *testing.T) {
	s := testSetup(t, 2)
	mustCreate(t, s, 1)
	mustCreate(t, s, 1)
	waiting := mustCreate(t, s, 1)
	mustStart(t, s)

	// Corrupt state: drop a ready task from its ring.
	s.mu.Lock()
	task, err := s.reg.Lookup(waiting)
	if err != nil {
		s.mu.Unlock()
		t.Fatalf("Lookup: %v", err)
	}
	s.ready.Remove(task)
	s.mu.Unlock()

	if err := s.Block(waiting); !errors.Is(err, model.InvariantViolation) {
		t.Fatalf("Block: err = %v, want InvariantViolation", err)
	}
	if err := s.Err(); !errors.Is(err, model.InvariantViolation) {
		t.Errorf("Err() = %v, want InvariantViolation", err)
	}
}

func TestSnapshot_Levels(t *testing.T) {
	s := testSetup(t, 3)
	for i := 0; i < 4; i++ {
		mustCreate(t, s, 5)
	}
	mustCreate(t, s, 1)
	mustStart(t, s)

	snap := s.Snapshot()
	if !snap.Started || len(snap.Cores) != 3 || len(snap.Tasks) != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(snap.Levels))
	}
	top := snap.Levels[0]
	if top.Priority != 5 || len(top.Running) != 3 || len(top.Ready) != 1 || top.Ready[0] != 3 {
		t.Errorf("top level = %+v", top)
	}
	if top.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", top.Cursor)
	}
	if !snap.Cores[0].Accounting || snap.Cores[1].Accounting {
		t.Errorf("accounting flags = %+v", snap.Cores)
	}
}
