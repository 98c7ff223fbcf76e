package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/pkg/model"
)

// Ticker is the part of Scheduler the tick source drives.
type Ticker interface {
	Tick() error
}

// Loop is a periodic tick source. It stands in for the accounting core's
// timer interrupt, calling Tick once per quantum.
type Loop struct {
	target  Ticker
	quantum time.Duration
	logger  *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a tick source for target firing every quantum.
func NewLoop(target Ticker, quantum time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		target:  target,
		quantum: quantum,
		logger:  logging.Component(logger, "ticker"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start ticks until ctx is cancelled, Stop is called, or the scheduler
// halts on an invariant violation. Ticks that fail for other reasons, such
// as a tick before Start, are logged and skipped.
func (l *Loop) Start(ctx context.Context) error {
	defer close(l.doneCh)
	l.logger.Info("tick source started", "quantum", l.quantum)
	ticker := time.NewTicker(l.quantum)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("tick source stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("tick source stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := l.target.Tick(); err != nil {
				if errors.Is(err, model.InvariantViolation) {
					l.logger.Error("tick source stopping (scheduler halted)", "error", err)
					return err
				}
				l.logger.Debug("tick skipped", "error", err)
			}
		}
	}
}

// Stop ends the loop and waits for the current tick to finish. It is safe
// to call more than once but only after Start has been called.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}
