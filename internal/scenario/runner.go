package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/smpsched/internal/expect"
	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/internal/scheduler"
	"github.com/me/smpsched/internal/trace"
	"github.com/me/smpsched/pkg/model"
)

// Failure is one expectation that did not hold.
type Failure struct {
	Step    int    `json:"step"`
	Tick    uint64 `json:"tick"`
	That    string `json:"that,omitempty"`
	Message string `json:"message"`
}

// Result summarises a scenario run.
type Result struct {
	Name         string         `json:"name"`
	RunID        string         `json:"run_id,omitempty"`
	Steps        int            `json:"steps"`
	Events       int            `json:"events"`
	Expectations int            `json:"expectations"`
	Failures     []Failure      `json:"failures,omitempty"`
	Final        model.Snapshot `json:"final"`
	Duration     time.Duration  `json:"duration"`
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Runner drives scenarios through fresh schedulers.
type Runner struct {
	store  trace.Store
	logger *slog.Logger
}

// NewRunner creates a runner. A nil store disables trace recording.
func NewRunner(st trace.Store, logger *slog.Logger) *Runner {
	return &Runner{store: st, logger: logging.Component(logger, "scenario")}
}

// run is the state of one scenario execution.
type run struct {
	sc     *Scenario
	sched  *scheduler.Scheduler
	eval   *expect.Evaluator
	res    *Result
	every  []int // indexes of steps re-checked after each event
	logger *slog.Logger
}

// Run executes sc. Expectation failures are collected in the result; a
// step failing with an error it did not declare aborts the run.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	started := time.Now()
	res := &Result{Name: sc.Name}

	var opts []scheduler.Option
	opts = append(opts, scheduler.WithLogger(r.logger))
	var rec *trace.Recorder
	if r.store != nil {
		var err error
		rec, err = trace.NewRecorder(ctx, r.store, sc.Name, sc.Scheduler, r.logger)
		if err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
		res.RunID = rec.RunID()
		opts = append(opts, scheduler.WithObserver(rec))
	}
	events := &eventCounter{}
	opts = append(opts, scheduler.WithObserver(events))

	sched, err := scheduler.New(sc.Scheduler, opts...)
	if err != nil {
		return nil, err
	}
	x := &run{
		sc:     sc,
		sched:  sched,
		eval:   expect.NewEvaluator(sc.Lib),
		res:    res,
		logger: r.logger.With("scenario", sc.Name),
	}
	x.logger.Info("scenario started", "steps", len(sc.Steps), "cores", sc.Scheduler.Cores)

	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := x.step(i, st); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
		res.Steps++
	}

	if rec != nil {
		if err := rec.Err(); err != nil {
			return nil, fmt.Errorf("record trace: %w", err)
		}
	}
	res.Events = events.n
	res.Final = sched.Snapshot()
	res.Duration = time.Since(started)
	x.logger.Info("scenario finished",
		"events", res.Events, "expectations", res.Expectations,
		"failures", len(res.Failures), "duration", res.Duration)
	return res, nil
}

func (x *run) step(i int, st Step) error {
	if st.Op == OpExpect {
		x.check(i, st)
		if st.Every {
			x.every = append(x.every, i)
		}
		return nil
	}
	for n := 0; n < st.repeat(); n++ {
		err := x.apply(st)
		if st.Error != "" {
			x.res.Expectations++
			if err == nil {
				x.fail(i, "", fmt.Sprintf("expected %s, step succeeded", st.Error))
			} else if code := model.CodeOf(err); code != st.Error {
				x.fail(i, "", fmt.Sprintf("expected %s, got %v", st.Error, err))
			}
		} else if err != nil {
			return err
		}
		for _, j := range x.every {
			x.check(j, x.sc.Steps[j])
		}
	}
	return nil
}

func (x *run) apply(st Step) error {
	switch st.Op {
	case OpCreate:
		var opts []scheduler.CreateOption
		if st.Name != "" {
			opts = append(opts, scheduler.WithName(st.Name))
		}
		id, err := x.sched.Create(*st.Priority, opts...)
		if err == nil {
			x.logger.Debug("created", "task", id, "priority", *st.Priority)
		}
		return err
	case OpStart:
		return x.sched.Start()
	case OpTick:
		return x.sched.Tick()
	case OpSetPriority:
		return x.sched.SetPriority(model.TaskID(*st.Task), *st.Priority)
	case OpDelete:
		return x.sched.Delete(model.TaskID(*st.Task))
	case OpBlock:
		return x.sched.Block(model.TaskID(*st.Task))
	case OpUnblock:
		return x.sched.Unblock(model.TaskID(*st.Task))
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

func (x *run) check(i int, st Step) {
	x.res.Expectations++
	snap := x.sched.Snapshot()
	ok, err := x.eval.EvaluateBool(st.That, snap)
	switch {
	case err != nil:
		x.failAt(i, snap.Ticks, st.That, err.Error())
	case !ok:
		x.failAt(i, snap.Ticks, st.That, "expectation false: "+snap.Placement())
	}
}

func (x *run) fail(i int, that, msg string) {
	x.failAt(i, x.sched.Ticks(), that, msg)
}

func (x *run) failAt(i int, tick uint64, that, msg string) {
	x.logger.Warn("expectation failed", "step", i, "tick", tick, "that", that, "message", msg)
	x.res.Failures = append(x.res.Failures, Failure{Step: i, Tick: tick, That: that, Message: msg})
}

type eventCounter struct {
	n int
}

func (c *eventCounter) ObserveEvent(model.Event) {
	c.n++
}
