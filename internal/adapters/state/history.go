package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

//go:embed migrations/001_task_history.sql
var migrationV1 string

// TaskHistory stores terminal background tasks in SQLite so they outlive
// the process that ran them.
type TaskHistory struct {
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
}

// HistoryFilter narrows List. Zero fields match everything.
type HistoryFilter struct {
	Status   core.TaskStatus
	ExpertID string
	Limit    int
}

// NewTaskHistory opens or creates the history database at dbPath.
func NewTaskHistory(dbPath string) (*TaskHistory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	h := &TaskHistory{dbPath: dbPath, db: db}

	if err := h.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return h, nil
}

func (h *TaskHistory) migrate() error {
	var version int
	if err := h.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := h.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (h *TaskHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// SaveTask upserts a task snapshot.
func (h *TaskHistory) SaveTask(ctx context.Context, t *core.BackgroundTask) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, expert_id, actual_expert_id, model, provider, prompt, context,
			status, result, error, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			actual_expert_id = excluded.actual_expert_id,
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		t.ID, t.ExpertID, nullableString(t.ActualID), t.Model, t.Provider, t.Prompt,
		nullableString(t.Context), string(t.Status), nullableString(t.Result), nullableString(t.Error),
		t.CreatedAt.UTC(), nullableTime(t.StartedAt), nullableTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task.
func (h *TaskHistory) GetTask(ctx context.Context, id string) (*core.BackgroundTask, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, expert_id, actual_expert_id, model, provider, prompt, context,
		       status, result, error, created_at, started_at, completed_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", id)
	}
	return t, err
}

// List returns tasks newest first.
func (h *TaskHistory) List(ctx context.Context, f HistoryFilter) ([]*core.BackgroundTask, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ExpertID != "" {
		where = append(where, "expert_id = ?")
		args = append(args, f.ExpertID)
	}

	query := `SELECT id, expert_id, actual_expert_id, model, provider, prompt, context,
	       status, result, error, created_at, started_at, completed_at FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*core.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Prune deletes tasks completed before cutoff and returns how many were removed.
func (h *TaskHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, err := h.db.ExecContext(ctx, "DELETE FROM tasks WHERE completed_at IS NOT NULL AND completed_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning tasks: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*core.BackgroundTask, error) {
	var t core.BackgroundTask
	var status string
	var actual, taskCtx, result, errText sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := s.Scan(&t.ID, &t.ExpertID, &actual, &t.Model, &t.Provider, &t.Prompt, &taskCtx,
		&status, &result, &errText, &t.CreatedAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.Status = core.TaskStatus(status)
	t.ActualID = actual.String
	t.Context = taskCtx.String
	t.Result = result.String
	t.Error = errText.String
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Path returns the database path.
func (h *TaskHistory) Path() string {
	return h.dbPath
}
