package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/pkg/model"
)

// Recorder persists every event of one scheduler as a run. It implements
// scheduler.Observer.
type Recorder struct {
	store  Store
	run    *model.Run
	ctx    context.Context
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewRecorder creates a run for a scheduler configured with cfg.
func NewRecorder(ctx context.Context, st Store, name string, cfg config.SchedulerConfig, logger *slog.Logger) (*Recorder, error) {
	run := &model.Run{
		ID:             "run_" + uuid.New().String(),
		Name:           name,
		Cores:          cfg.Cores,
		AccountingCore: cfg.AccountingCore,
		MinPriority:    cfg.MinPriority,
		MaxPriority:    cfg.MaxPriority,
		CreatedAt:      time.Now().UTC(),
	}
	if err := st.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r := &Recorder{
		store:  st,
		run:    run,
		ctx:    ctx,
		logger: logging.Component(logger, "trace").With("run_id", run.ID),
	}
	r.logger.Info("recording run", "name", name)
	return r, nil
}

// RunID returns the id of the run being recorded.
func (r *Recorder) RunID() string {
	return r.run.ID
}

// ObserveEvent stores ev. The first store failure is kept and later events
// are dropped.
func (r *Recorder) ObserveEvent(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.store.AppendEvent(r.ctx, r.run.ID, ev); err != nil {
		r.err = err
		r.logger.Error("append event", "seq", ev.Seq, "error", err)
	}
}

// Err returns the first error encountered while recording.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
