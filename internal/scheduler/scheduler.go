// Package scheduler implements a symmetric multiprocessor preemptive
// priority scheduler with round-robin timeslicing among tasks that share
// the highest contended priority level.
//
// All decisions are serialized by one mutex. Each public operation is one
// event: it is applied to completion, checked against the scheduler
// invariants, and only then are context-switch hooks and observers called,
// outside the decision lock but in event order.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/internal/cores"
	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/internal/ready"
	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

// ContextSwitcher performs the low-level switch of a core from one task to
// another. from or to is model.NoTask when the core was or becomes idle.
type ContextSwitcher interface {
	SwitchContext(core int, from, to model.TaskID)
}

// SwitchFunc adapts a function to ContextSwitcher.
type SwitchFunc func(core int, from, to model.TaskID)

// SwitchContext calls f.
func (f SwitchFunc) SwitchContext(core int, from, to model.TaskID) {
	if from == to {
		return
	}
	f(core, from, to)
}

// Observer receives every completed event with the switches it caused.
type Observer interface {
	ObserveEvent(ev model.Event)
}

// Allocator owns task stacks and other per-task memory.
type Allocator interface {
	Allocate(name string, priority int) (any, error)
	Release(id model.TaskID, ctx any)
}

type nopAllocator struct{}

func (nopAllocator) Allocate(string, int) (any, error) { return nil, nil }
func (nopAllocator) Release(model.TaskID, any)         {}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logging.Component(logger, "scheduler")
	}
}

// WithSwitchHook adds a context-switch hook. Hooks run in registration order,
// after the scheduler lock is released but while later events wait. A hook
// may query the scheduler; it must not call Create, Start, Tick, Delete,
// SetPriority, Block or Unblock, which would deadlock. Hand such work to
// another goroutine instead.
func WithSwitchHook(h ContextSwitcher) Option {
	return func(s *Scheduler) {
		s.hooks = append(s.hooks, h)
	}
}

// WithObserver adds an event observer. Observers run under the same rules
// as switch hooks: queries are allowed, mutating calls must be made from
// another goroutine.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, o)
	}
}

// WithAllocator sets the task allocator.
func WithAllocator(a Allocator) Option {
	return func(s *Scheduler) {
		s.alloc = a
	}
}

// CreateOption configures a task at creation.
type CreateOption func(*createParams)

type createParams struct {
	name string
}

// WithName labels the task in views and logs.
func WithName(name string) CreateOption {
	return func(p *createParams) { p.name = name }
}

// Scheduler is one independent scheduler instance.
type Scheduler struct {
	mu       sync.Mutex
	cfg      config.SchedulerConfig
	reg      *registry.Registry
	ready    *ready.Structure
	cores    *cores.Table
	started  bool
	ticks    uint64
	eventSeq uint64
	halted   error
	cur      *pending

	// dispatchMu keeps hook and observer calls in event order without
	// holding mu while they run.
	dispatchMu sync.Mutex
	hooks      []ContextSwitcher
	observers  []Observer
	alloc      Allocator
	logger     *slog.Logger
}

// New validates cfg and creates a scheduler with idle cores.
func New(cfg config.SchedulerConfig, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:    cfg,
		reg:    registry.New(),
		ready:  ready.New(cfg.MinPriority, cfg.MaxPriority),
		cores:  cores.New(cfg.Cores, cfg.AccountingCore),
		alloc:  nopAllocator{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the scheduler was built with.
func (s *Scheduler) Config() config.SchedulerConfig {
	return s.cfg
}

// pending accumulates the switches of the event being applied.
type pending struct {
	kind     model.EventKind
	task     model.TaskID
	priority int
	switches map[int]*model.Switch
}

func (p *pending) note(c int, from, to *registry.Task) {
	sw, ok := p.switches[c]
	if !ok {
		sw = &model.Switch{Core: c, From: idOf(from)}
		p.switches[c] = sw
	}
	sw.To = idOf(to)
}

func (p *pending) effective() []model.Switch {
	var out []model.Switch
	for _, sw := range p.switches {
		if sw.From != sw.To {
			out = append(out, *sw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core < out[j].Core })
	return out
}

func idOf(t *registry.Task) model.TaskID {
	if t == nil {
		return model.NoTask
	}
	return t.ID
}

// apply runs fn as one event under the decision lock.
func (s *Scheduler) apply(kind model.EventKind, task model.TaskID, priority int, fn func(p *pending) error) error {
	s.mu.Lock()
	if s.halted != nil {
		err := s.halted
		s.mu.Unlock()
		return err
	}

	p := &pending{kind: kind, task: task, priority: priority, switches: make(map[int]*model.Switch)}
	s.cur = p
	err := fn(p)
	s.cur = nil
	if err == nil && !s.cfg.SkipInvariants {
		err = s.verify()
	}
	if err != nil {
		if errors.Is(err, model.InvariantViolation) {
			s.halt(err)
		}
		s.mu.Unlock()
		return err
	}

	s.eventSeq++
	ev := model.Event{
		Seq:      s.eventSeq,
		Kind:     p.kind,
		Task:     p.task,
		Priority: p.priority,
		Tick:     s.ticks,
		Switches: p.effective(),
		At:       time.Now().UTC(),
	}
	s.dispatchMu.Lock()
	s.mu.Unlock()
	defer s.dispatchMu.Unlock()

	for _, sw := range ev.Switches {
		for _, h := range s.hooks {
			h.SwitchContext(sw.Core, sw.From, sw.To)
		}
	}
	for _, o := range s.observers {
		o.ObserveEvent(ev)
	}
	return nil
}

func (s *Scheduler) halt(err error) {
	s.halted = err
	s.logger.Error("scheduler halted", "error", err)
}

// invariant converts an internal failure into a fatal InvariantViolation.
func invariant(err error) error {
	if err == nil || errors.Is(err, model.InvariantViolation) {
		return err
	}
	return model.NewInvariantViolation("%v", err)
}

// Create registers a task at priority. Before Start the task only joins its
// ring; afterwards it is placed or preempts within the same event.
func (s *Scheduler) Create(priority int, opts ...CreateOption) (model.TaskID, error) {
	if err := s.cfg.CheckPriority(priority); err != nil {
		return model.NoTask, err
	}
	var params createParams
	for _, opt := range opts {
		opt(&params)
	}
	ctx, err := s.alloc.Allocate(params.name, priority)
	if err != nil {
		return model.NoTask, fmt.Errorf("allocate task: %w", err)
	}

	id := model.NoTask
	err = s.apply(model.EventCreate, model.NoTask, priority, func(p *pending) error {
		t := s.reg.Create(priority, params.name)
		t.Context = ctx
		id = t.ID
		p.task = id
		s.ready.PushBack(t)
		s.logger.Debug("task created", "task", t.ID, "priority", priority)
		return s.reconcile()
	})
	if err != nil {
		if id == model.NoTask {
			s.alloc.Release(id, ctx)
		}
		return model.NoTask, err
	}
	return id, nil
}

// Start performs the initial placement pass over all priorities.
func (s *Scheduler) Start() error {
	return s.apply(model.EventStart, model.NoTask, 0, func(p *pending) error {
		if s.started {
			return &model.SchedulerError{Code: model.ErrAlreadyStarted, Message: "scheduler already started", TaskID: model.NoTask}
		}
		s.started = true
		s.logger.Info("scheduler started", "cores", s.cores.Len(), "accounting_core", s.cores.Accounting(), "tasks", s.reg.Len())
		return s.reconcile()
	})
}

// Tick advances one quantum.
func (s *Scheduler) Tick() error {
	return s.apply(model.EventTick, model.NoTask, 0, func(p *pending) error {
		if !s.started {
			return &model.SchedulerError{Code: model.ErrNotStarted, Message: "tick before start", TaskID: model.NoTask}
		}
		s.ticks++
		return s.rotate()
	})
}

// Delete removes a task from every structure. A freed core is refilled in
// the same event.
func (s *Scheduler) Delete(id model.TaskID) error {
	return s.apply(model.EventDelete, id, 0, func(p *pending) error {
		t, err := s.reg.Lookup(id)
		if err != nil {
			return err
		}
		p.priority = t.Priority
		switch t.State {
		case model.TaskStateRunning:
			c := t.Core
			s.cores.Unbind(c)
			p.note(c, t, nil)
		case model.TaskStateReady:
			if !s.ready.Remove(t) {
				return model.NewInvariantViolation("ready task %d missing from ring %d", t.ID, t.Priority)
			}
		}
		ctx := t.Context
		if err := s.reg.Delete(t); err != nil {
			return invariant(err)
		}
		s.alloc.Release(id, ctx)
		s.logger.Debug("task deleted", "task", id)
		return s.reconcile()
	})
}

// Block parks a task on behalf of an external wait subsystem.
func (s *Scheduler) Block(id model.TaskID) error {
	return s.apply(model.EventBlock, id, 0, func(p *pending) error {
		t, err := s.reg.Lookup(id)
		if err != nil {
			return err
		}
		p.priority = t.Priority
		switch t.State {
		case model.TaskStateRunning:
			if _, err := s.release(t.Core, model.TaskStateBlocked); err != nil {
				return err
			}
		case model.TaskStateReady:
			if !s.ready.Remove(t) {
				return model.NewInvariantViolation("ready task %d missing from ring %d", t.ID, t.Priority)
			}
			if err := s.reg.Transition(t, model.TaskStateBlocked); err != nil {
				return invariant(err)
			}
		default:
			return &model.SchedulerError{Code: model.ErrInvalidState, Message: "task already blocked", TaskID: id}
		}
		return s.reconcile()
	})
}

// Unblock makes a blocked task ready again at the back of its ring.
func (s *Scheduler) Unblock(id model.TaskID) error {
	return s.apply(model.EventUnblock, id, 0, func(p *pending) error {
		t, err := s.reg.Lookup(id)
		if err != nil {
			return err
		}
		p.priority = t.Priority
		if t.State != model.TaskStateBlocked {
			return &model.SchedulerError{Code: model.ErrInvalidState, Message: "task is not blocked", TaskID: id}
		}
		if err := s.reg.Transition(t, model.TaskStateReady); err != nil {
			return invariant(err)
		}
		s.reg.Stamp(t)
		s.ready.PushBack(t)
		return s.reconcile()
	})
}

// Query returns a task's state and core (model.NoCore unless running).
func (s *Scheduler) Query(id model.TaskID) (model.TaskState, int, error) {
	v, err := s.Task(id)
	if err != nil {
		return "", model.NoCore, err
	}
	return v.State, v.Core, nil
}

// Task returns a copy of one task.
func (s *Scheduler) Task(id model.TaskID) (model.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.reg.Lookup(id)
	if err != nil {
		return model.TaskView{}, err
	}
	return t.View(), nil
}

// Started reports whether Start has completed.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Err returns the error that halted the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Snapshot copies the whole scheduler state.
func (s *Scheduler) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := model.Snapshot{
		Started: s.started,
		Ticks:   s.ticks,
		Cores:   s.cores.Views(),
		TakenAt: time.Now().UTC(),
	}
	s.reg.Each(func(t *registry.Task) {
		snap.Tasks = append(snap.Tasks, t.View())
	})
	for p := s.cfg.MaxPriority; p >= s.cfg.MinPriority; p-- {
		running := s.cores.CoresAt(p, false)
		if len(running) == 0 && s.ready.Len(p) == 0 {
			continue
		}
		lv := model.LevelView{Priority: p, Running: running, Ready: []model.TaskID{}, Cursor: model.NoCore}
		for _, t := range s.ready.Tasks(p) {
			lv.Ready = append(lv.Ready, t.ID)
		}
		if c, ok := s.cursor(p); ok {
			lv.Cursor = c
		}
		snap.Levels = append(snap.Levels, lv)
	}
	return snap
}
