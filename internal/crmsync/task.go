package crmsync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType names the two asynchronous operations the scheduler executes.
type TaskType string

const (
	// TaskPush re-reads an entity and pushes its current state.
	TaskPush TaskType = "push"
	// TaskDelete propagates a local hard delete. The row is gone by the
	// time the task runs, so the task carries the remote action snapshot.
	TaskDelete TaskType = "delete"
)

// Task is one pending unit of outbound sync work. Tasks are durable,
// at-least-once, and only become visible to workers after the enqueueing
// transaction commits.
type Task struct {
	ID            int64
	Type          TaskType
	Kind          Kind
	EntityID      uuid.UUID
	RemoteAction  string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// TaskEnqueuer accepts tasks for background execution.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}
