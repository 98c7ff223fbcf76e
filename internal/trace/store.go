// Package trace persists scheduler runs and the events they produced.
package trace

import (
	"context"

	"github.com/me/smpsched/pkg/model"
)

// Store defines the persistence layer for scheduler traces.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	DeleteRun(ctx context.Context, id string) error

	// Events
	AppendEvent(ctx context.Context, runID string, ev model.Event) error
	ListEvents(ctx context.Context, runID string) ([]model.Event, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
