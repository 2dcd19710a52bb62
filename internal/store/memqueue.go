package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

// MemQueue is the in-memory counterpart of TaskQueue with the same lease
// semantics.
type MemQueue struct {
	mu       sync.Mutex
	tasks    []memTask
	dead     []DeadTask
	nextID   int64
	nextDead int64
	lease    time.Duration
}

type memTask struct {
	task       crmsync.Task
	leaseUntil time.Time
}

func NewMemQueue(lease time.Duration) *MemQueue {
	if lease <= 0 {
		lease = defaultTaskLease
	}
	return &MemQueue{nextID: 1, nextDead: 1, lease: lease}
}

func (q *MemQueue) Enqueue(ctx context.Context, task crmsync.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.ID = q.nextID
	q.nextID++
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now().UTC()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	q.tasks = append(q.tasks, memTask{task: task})
	return nil
}

func (q *MemQueue) DequeueDue(ctx context.Context, limit int) ([]crmsync.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	out := make([]crmsync.Task, 0, limit)
	for i := range q.tasks {
		if len(out) >= limit {
			break
		}
		entry := &q.tasks[i]
		if entry.task.NextAttemptAt.After(now) || entry.leaseUntil.After(now) {
			continue
		}
		entry.leaseUntil = now.Add(q.lease)
		entry.task.Attempts++
		out = append(out, entry.task)
	}
	return out, nil
}

func (q *MemQueue) Complete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].task.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemQueue) Retry(ctx context.Context, id int64, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].task.ID == id {
			q.tasks[i].task.NextAttemptAt = time.Now().UTC().Add(delay)
			q.tasks[i].leaseUntil = time.Time{}
			return nil
		}
	}
	return nil
}

func (q *MemQueue) Bury(ctx context.Context, task crmsync.Task, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].task.ID == task.ID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	q.dead = append(q.dead, DeadTask{
		ID:           q.nextDead,
		Type:         task.Type,
		Kind:         task.Kind,
		EntityID:     task.EntityID,
		RemoteAction: task.RemoteAction,
		Attempts:     task.Attempts,
		Reason:       reason,
		FailedAt:     time.Now().UTC(),
	})
	q.nextDead++
	return nil
}

func (q *MemQueue) DeadLetters(ctx context.Context, limit int) ([]DeadTask, error) {
	if limit <= 0 {
		limit = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadTask, 0, limit)
	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

func (q *MemQueue) Replay(ctx context.Context, deadID int64) error {
	q.mu.Lock()
	var found *DeadTask
	for i := range q.dead {
		if q.dead[i].ID == deadID {
			entry := q.dead[i]
			found = &entry
			q.dead = append(q.dead[:i], q.dead[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	if found == nil {
		return fmt.Errorf("%w: dead task %d", crmsync.ErrNotFound, deadID)
	}
	return q.Enqueue(ctx, crmsync.Task{
		Type:         found.Type,
		Kind:         found.Kind,
		EntityID:     found.EntityID,
		RemoteAction: found.RemoteAction,
	})
}

func (q *MemQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}
