package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

var tasksSchema = fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		task_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		entity_id UUID NOT NULL,
		remote_action TEXT NOT NULL DEFAULT '',
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		lease_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS crmsync_tasks_due_idx
		ON %s (next_attempt_at, id);
`, tasksTable, tasksTable)

// TaskQueue is the durable outbound work queue. Claimed tasks are leased
// rather than removed, so a crashed worker's tasks come back after the lease
// expires.
type TaskQueue struct {
	db    *sql.DB
	lease time.Duration
	log   *zap.Logger
}

const defaultTaskLease = 2 * time.Minute

func NewTaskQueue(db *sql.DB, lease time.Duration, log *zap.Logger) (*TaskQueue, error) {
	if db == nil {
		return nil, crmsync.ErrInvalidInput
	}
	if lease <= 0 {
		lease = defaultTaskLease
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, tasksSchema); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tasksTable, err)
	}
	if _, err := db.ExecContext(ctx, deadLetterSchema); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", deadLetterTable, err)
	}
	return &TaskQueue{db: db, lease: lease, log: log}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *TaskQueue) enqueueTx(ctx context.Context, ex execer, task crmsync.Task) error {
	next := task.NextAttemptAt
	if next.IsZero() {
		next = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (task_type, kind, entity_id, remote_action, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, tasksTable)
	_, err := ex.ExecContext(ctx, query, string(task.Type), string(task.Kind), task.EntityID, task.RemoteAction, task.Attempts, next)
	return err
}

// Enqueue inserts a task outside any entity transaction. The engines enqueue
// through the store's transactional path; this entry point serves replays
// and manual triggers.
func (q *TaskQueue) Enqueue(ctx context.Context, task crmsync.Task) error {
	return q.enqueueTx(ctx, q.db, task)
}

// DequeueDue claims up to limit due tasks. Each claimed task is leased and
// its attempt counter bumped; the caller must Complete, Retry, or Bury it.
func (q *TaskQueue) DequeueDue(ctx context.Context, limit int) ([]crmsync.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		SELECT id, task_type, kind, entity_id, remote_action, attempts, next_attempt_at, created_at
		FROM %s
		WHERE next_attempt_at <= $1 AND (lease_until IS NULL OR lease_until <= $1)
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, tasksTable)
	rows, err := tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	tasks := make([]crmsync.Task, 0, limit)
	for rows.Next() {
		var task crmsync.Task
		var taskType, kind string
		if err := rows.Scan(&task.ID, &taskType, &kind, &task.EntityID, &task.RemoteAction, &task.Attempts, &task.NextAttemptAt, &task.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		task.Type = crmsync.TaskType(taskType)
		task.Kind = crmsync.Kind(kind)
		tasks = append(tasks, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leaseUntil := now.Add(q.lease)
	claim := fmt.Sprintf("UPDATE %s SET lease_until = $2, attempts = attempts + 1 WHERE id = $1", tasksTable)
	for i := range tasks {
		if _, err := tx.ExecContext(ctx, claim, tasks[i].ID, leaseUntil); err != nil {
			return nil, err
		}
		tasks[i].Attempts++
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return tasks, nil
}

// Complete removes a finished task.
func (q *TaskQueue) Complete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", tasksTable)
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// Retry releases the lease and schedules the next attempt after delay.
func (q *TaskQueue) Retry(ctx context.Context, id int64, delay time.Duration) error {
	query := fmt.Sprintf("UPDATE %s SET lease_until = NULL, next_attempt_at = $2 WHERE id = $1", tasksTable)
	_, err := q.db.ExecContext(ctx, query, id, time.Now().UTC().Add(delay))
	return err
}

// Depth reports how many tasks are waiting, leased or not.
func (q *TaskQueue) Depth(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", tasksTable)
	var depth int
	err := q.db.QueryRowContext(ctx, query).Scan(&depth)
	return depth, err
}
