// Package scheduler drains the outbound task queue. Transient CRM failures
// retry forever with exponential backoff; everything else goes to the dead
// letter table for an operator to replay.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmapi"
	"github.com/agentworkforce/crmsync/internal/crmsync"
)

// Queue is the claim/settle surface the scheduler needs from the task store.
type Queue interface {
	DequeueDue(ctx context.Context, limit int) ([]crmsync.Task, error)
	Complete(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64, delay time.Duration) error
	Bury(ctx context.Context, task crmsync.Task, reason string) error
}

// Executor runs one task against the CRM. The outbound engine implements it.
type Executor interface {
	Sync(ctx context.Context, kind crmsync.Kind, id uuid.UUID) error
	SyncDelete(ctx context.Context, task crmsync.Task) error
}

const (
	defaultWorkers      = 4
	defaultPollInterval = time.Second
	defaultBaseBackoff  = time.Second
	// defaultMaxBackoff caps the retry delay; attempts themselves are
	// unbounded for transient failures.
	defaultMaxBackoff = 100 * time.Minute
)

type Options struct {
	Workers      int
	PollInterval time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (o *Options) fill() {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
}

type Scheduler struct {
	queue Queue
	exec  Executor
	opts  Options
	log   *zap.Logger
}

func New(queue Queue, exec Executor, opts Options, log *zap.Logger) *Scheduler {
	opts.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{queue: queue, exec: exec, opts: opts, log: log}
}

// Run polls for due tasks and fans them out to a fixed worker pool until ctx
// is cancelled. In-flight tasks finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	work := make(chan crmsync.Task)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range work {
				s.process(ctx, task)
			}
		}()
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		tasks, err := s.queue.DequeueDue(ctx, s.opts.Workers)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("dequeue failed", zap.Error(err))
			}
			continue
		}
		for _, task := range tasks {
			select {
			case work <- task:
			case <-ctx.Done():
				break loop
			}
		}
	}
	close(work)
	wg.Wait()
}

func (s *Scheduler) process(ctx context.Context, task crmsync.Task) {
	err := s.execute(ctx, task)
	if err == nil {
		if err := s.queue.Complete(ctx, task.ID); err != nil {
			s.log.Warn("complete failed", zap.Int64("task", task.ID), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown, not a task failure. The lease expires and another
		// worker picks it up.
		return
	}
	if crmapi.IsRetryable(err) {
		delay := Backoff(task.Attempts, s.opts.BaseBackoff, s.opts.MaxBackoff)
		s.log.Info("task failed, retrying",
			zap.Int64("task", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.Int("attempts", task.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := s.queue.Retry(ctx, task.ID, delay); err != nil {
			s.log.Warn("retry failed", zap.Int64("task", task.ID), zap.Error(err))
		}
		return
	}
	s.log.Error("task failed permanently",
		zap.Int64("task", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.Error(err))
	if err := s.queue.Bury(ctx, task, err.Error()); err != nil {
		s.log.Warn("bury failed", zap.Int64("task", task.ID), zap.Error(err))
	}
}

func (s *Scheduler) execute(ctx context.Context, task crmsync.Task) error {
	switch task.Type {
	case crmsync.TaskDelete:
		return s.exec.SyncDelete(ctx, task)
	default:
		return s.exec.Sync(ctx, task.Kind, task.EntityID)
	}
}

// Backoff returns the delay before the next attempt: base doubled per prior
// attempt, capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
