package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

var deadLetterSchema = fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		task_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		entity_id UUID NOT NULL,
		remote_action TEXT NOT NULL DEFAULT '',
		attempts INT NOT NULL,
		reason TEXT NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, deadLetterTable)

// DeadTask is a task the scheduler gave up on: its last error was not
// retryable. Dead tasks sit until an operator replays or discards them.
type DeadTask struct {
	ID           int64            `json:"id"`
	Type         crmsync.TaskType `json:"type"`
	Kind         crmsync.Kind     `json:"kind"`
	EntityID     uuid.UUID        `json:"entityId"`
	RemoteAction string           `json:"remoteAction,omitempty"`
	Attempts     int              `json:"attempts"`
	Reason       string           `json:"reason"`
	FailedAt     time.Time        `json:"failedAt"`
}

// Bury moves a claimed task to the dead-letter table with the reason it
// failed. The move is atomic: the task row disappears in the same
// transaction the dead row appears.
func (q *TaskQueue) Bury(ctx context.Context, task crmsync.Task, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	insert := fmt.Sprintf(`
		INSERT INTO %s (task_type, kind, entity_id, remote_action, attempts, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`, deadLetterTable)
	if _, err := tx.ExecContext(ctx, insert, string(task.Type), string(task.Kind), task.EntityID, task.RemoteAction, task.Attempts, reason); err != nil {
		return err
	}
	remove := fmt.Sprintf("DELETE FROM %s WHERE id = $1", tasksTable)
	if _, err := tx.ExecContext(ctx, remove, task.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// DeadLetters lists buried tasks, newest first.
func (q *TaskQueue) DeadLetters(ctx context.Context, limit int) ([]DeadTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, task_type, kind, entity_id, remote_action, attempts, reason, failed_at
		FROM %s ORDER BY id DESC LIMIT $1`, deadLetterTable)
	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DeadTask, 0, limit)
	for rows.Next() {
		var dead DeadTask
		var taskType, kind string
		if err := rows.Scan(&dead.ID, &taskType, &kind, &dead.EntityID, &dead.RemoteAction, &dead.Attempts, &dead.Reason, &dead.FailedAt); err != nil {
			return nil, err
		}
		dead.Type = crmsync.TaskType(taskType)
		dead.Kind = crmsync.Kind(kind)
		out = append(out, dead)
	}
	return out, rows.Err()
}

// Replay moves one dead task back onto the live queue with a fresh attempt
// counter.
func (q *TaskQueue) Replay(ctx context.Context, deadID int64) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
		SELECT task_type, kind, entity_id, remote_action
		FROM %s WHERE id = $1 FOR UPDATE`, deadLetterTable)
	var taskType, kind, remoteAction string
	var entityID uuid.UUID
	err = tx.QueryRowContext(ctx, query, deadID).Scan(&taskType, &kind, &entityID, &remoteAction)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: dead task %d", crmsync.ErrNotFound, deadID)
	}
	if err != nil {
		return err
	}
	if err := q.enqueueTx(ctx, tx, crmsync.Task{
		Type:         crmsync.TaskType(taskType),
		Kind:         crmsync.Kind(kind),
		EntityID:     entityID,
		RemoteAction: remoteAction,
	}); err != nil {
		return err
	}
	remove := fmt.Sprintf("DELETE FROM %s WHERE id = $1", deadLetterTable)
	if _, err := tx.ExecContext(ctx, remove, deadID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
