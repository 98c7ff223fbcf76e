package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/smpsched/internal/logging"
	"github.com/me/smpsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logging.Component(logger, "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, cores, accounting_core, min_priority, max_priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Cores, run.AccountingCore, run.MinPriority, run.MaxPriority,
		run.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

const runColumns = `r.id, r.name, r.cores, r.accounting_core, r.min_priority, r.max_priority, r.created_at,
	(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var createdAt string
	if err := row.Scan(&run.ID, &run.Name, &run.Cores, &run.AccountingCore,
		&run.MinPriority, &run.MaxPriority, &createdAt, &run.EventCount); err != nil {
		return nil, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &run, nil
}

// --- Events ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, ev model.Event) error {
	s.logger.Debug("sql", "op", "insert", "table", "events", "run_id", runID, "seq", ev.Seq)

	switches := ev.Switches
	if switches == nil {
		switches = []model.Switch{}
	}
	switchesJSON, err := json.Marshal(switches)
	if err != nil {
		return fmt.Errorf("marshal switches: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, kind, task, priority, tick, switches, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Seq, string(ev.Kind), int(ev.Task), ev.Priority, ev.Tick,
		string(switchesJSON), ev.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.Event, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, task, priority, tick, switches, at
		 FROM events WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var kind, switchesJSON, at string
		var task int
		if err := rows.Scan(&ev.Seq, &kind, &task, &ev.Priority, &ev.Tick, &switchesJSON, &at); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.Task = model.TaskID(task)
		if err := json.Unmarshal([]byte(switchesJSON), &ev.Switches); err != nil {
			return nil, fmt.Errorf("unmarshal switches (event %d): %w", ev.Seq, err)
		}
		if len(ev.Switches) == 0 {
			ev.Switches = nil
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, ev)
	}
	return events, rows.Err()
}
