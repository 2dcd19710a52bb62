package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

// MemStore is an in-memory crmsync.Store with the same transactional
// semantics as the Postgres store: writes stage inside the transaction and
// apply atomically on commit, post-commit hooks fire only after a successful
// commit, and enqueued tasks surface only for committed transactions. One
// big lock serializes transactions, which doubles as the row-lock
// serialization the engines rely on.
type MemStore struct {
	mu          sync.Mutex
	registry    *crmsync.Registry
	syncEnabled bool
	records     map[crmsync.Kind]map[uuid.UUID]crmsync.Record
	tasks       []crmsync.Task
	nextTaskID  int64
	sink        crmsync.TaskEnqueuer
}

func NewMemStore(registry *crmsync.Registry, syncEnabled bool) *MemStore {
	return &MemStore{
		registry:    registry,
		syncEnabled: syncEnabled,
		records:     map[crmsync.Kind]map[uuid.UUID]crmsync.Record{},
		nextTaskID:  1,
	}
}

// WithTaskSink routes committed tasks to an external queue instead of the
// internal slice.
func (s *MemStore) WithTaskSink(sink crmsync.TaskEnqueuer) *MemStore {
	s.sink = sink
	return s
}

func (s *MemStore) WithTx(ctx context.Context, fn func(tx crmsync.Tx) error) error {
	s.mu.Lock()
	tx := &memTx{
		store:   s,
		writes:  map[memKey]crmsync.Record{},
		deletes: map[memKey]bool{},
	}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	for key, rec := range tx.writes {
		bucket := s.records[key.kind]
		if bucket == nil {
			bucket = map[uuid.UUID]crmsync.Record{}
			s.records[key.kind] = bucket
		}
		bucket[key.id] = rec
	}
	for key := range tx.deletes {
		if bucket := s.records[key.kind]; bucket != nil {
			delete(bucket, key.id)
		}
	}
	if s.sink == nil {
		for i := range tx.tasks {
			tx.tasks[i].ID = s.nextTaskID
			s.nextTaskID++
			s.tasks = append(s.tasks, tx.tasks[i])
		}
	}
	s.mu.Unlock()
	if s.sink != nil {
		for _, task := range tx.tasks {
			if err := s.sink.Enqueue(ctx, task); err != nil {
				return err
			}
		}
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// TakeTasks drains and returns the tasks committed so far.
func (s *MemStore) TakeTasks() []crmsync.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.tasks
	s.tasks = nil
	return out
}

// Enqueue appends a task directly, outside any entity transaction.
func (s *MemStore) Enqueue(ctx context.Context, task crmsync.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.ID = s.nextTaskID
	s.nextTaskID++
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *MemStore) clone(kind crmsync.Kind, rec crmsync.Record) (crmsync.Record, error) {
	cfg, err := s.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	out := cfg.New()
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

type memKey struct {
	kind crmsync.Kind
	id   uuid.UUID
}

type memTx struct {
	store   *MemStore
	writes  map[memKey]crmsync.Record
	deletes map[memKey]bool
	tasks   []crmsync.Task
	hooks   []func()
}

func (t *memTx) OnCommit(fn func()) {
	if fn != nil {
		t.hooks = append(t.hooks, fn)
	}
}

// lookup finds the current in-transaction state of (kind, id): staged write,
// staged delete, or the committed record.
func (t *memTx) lookup(kind crmsync.Kind, id uuid.UUID) (crmsync.Record, bool) {
	key := memKey{kind: kind, id: id}
	if rec, ok := t.writes[key]; ok {
		return rec, true
	}
	if t.deletes[key] {
		return nil, false
	}
	if bucket := t.store.records[kind]; bucket != nil {
		if rec, ok := bucket[id]; ok {
			return rec, true
		}
	}
	return nil, false
}

func (t *memTx) get(kind crmsync.Kind, id uuid.UUID, includeDeleted bool) (crmsync.Record, error) {
	rec, ok := t.lookup(kind, id)
	if !ok || (!includeDeleted && rec.Meta().IsDeleted()) {
		return nil, fmt.Errorf("%w: %s %s", crmsync.ErrNotFound, kind, id)
	}
	return t.store.clone(kind, rec)
}

func (t *memTx) Get(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	return t.get(kind, id, false)
}

func (t *memTx) GetAny(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	return t.get(kind, id, true)
}

func (t *memTx) GetForUpdate(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	return t.get(kind, id, true)
}

func (t *memTx) byRemoteID(kind crmsync.Kind, remoteID string, includeDeleted bool) (crmsync.Record, error) {
	if remoteID != "" {
		for key, rec := range t.writes {
			if key.kind == kind && rec.Meta().RemoteID == remoteID {
				return t.get(kind, key.id, includeDeleted)
			}
		}
		for id, rec := range t.store.records[kind] {
			if t.deletes[memKey{kind: kind, id: id}] {
				continue
			}
			if _, staged := t.writes[memKey{kind: kind, id: id}]; staged {
				continue
			}
			if rec.Meta().RemoteID == remoteID {
				return t.get(kind, id, includeDeleted)
			}
		}
	}
	return nil, fmt.Errorf("%w: %s remote %q", crmsync.ErrNotFound, kind, remoteID)
}

func (t *memTx) GetByRemoteID(ctx context.Context, kind crmsync.Kind, remoteID string) (crmsync.Record, error) {
	return t.byRemoteID(kind, remoteID, false)
}

func (t *memTx) GetByRemoteIDForUpdate(ctx context.Context, kind crmsync.Kind, remoteID string) (crmsync.Record, error) {
	return t.byRemoteID(kind, remoteID, true)
}

func (t *memTx) Save(ctx context.Context, rec crmsync.Record, opts crmsync.SaveOptions) error {
	kind, err := crmsync.KindOf(rec)
	if err != nil {
		return err
	}
	meta := rec.Meta()
	if meta.ID == uuid.Nil {
		return fmt.Errorf("%w: record has no id", crmsync.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	stored, err := t.store.clone(kind, rec)
	if err != nil {
		return err
	}
	key := memKey{kind: kind, id: meta.ID}
	t.writes[key] = stored
	delete(t.deletes, key)
	if opts.SkipSync || !t.store.syncEnabled || meta.IsDeleted() {
		return nil
	}
	t.tasks = append(t.tasks, crmsync.Task{
		Type:          crmsync.TaskPush,
		Kind:          kind,
		EntityID:      meta.ID,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	return nil
}

func (t *memTx) SetRemoteID(ctx context.Context, kind crmsync.Kind, id uuid.UUID, remoteID string) error {
	rec, err := t.get(kind, id, true)
	if err != nil {
		return err
	}
	rec.Meta().RemoteID = remoteID
	stored, err := t.store.clone(kind, rec)
	if err != nil {
		return err
	}
	t.writes[memKey{kind: kind, id: id}] = stored
	return nil
}

func (t *memTx) Delete(ctx context.Context, kind crmsync.Kind, id uuid.UUID) error {
	cfg, err := t.store.registry.Lookup(kind)
	if err != nil {
		return err
	}
	rec, err := t.get(kind, id, true)
	if err != nil {
		return err
	}
	meta := rec.Meta()
	now := time.Now().UTC()
	switch cfg.DeletePolicy {
	case crmsync.DeleteSoft:
		meta.MarkDeleted(now)
		if err := t.Save(ctx, rec, crmsync.SaveOptions{SkipSync: true}); err != nil {
			return err
		}
		if t.store.syncEnabled {
			t.tasks = append(t.tasks, crmsync.Task{
				Type:          crmsync.TaskPush,
				Kind:          kind,
				EntityID:      id,
				NextAttemptAt: now,
				CreatedAt:     now,
			})
		}
		return nil
	case crmsync.DeleteHard:
		if err := t.Purge(ctx, kind, id); err != nil {
			return err
		}
		if t.store.syncEnabled && meta.RemoteID != "" {
			t.tasks = append(t.tasks, crmsync.Task{
				Type:          crmsync.TaskDelete,
				Kind:          kind,
				EntityID:      id,
				RemoteAction:  cfg.RemotePath + "/" + meta.RemoteID,
				NextAttemptAt: now,
				CreatedAt:     now,
			})
		}
		return nil
	default:
		return t.Purge(ctx, kind, id)
	}
}

func (t *memTx) Purge(ctx context.Context, kind crmsync.Kind, id uuid.UUID) error {
	key := memKey{kind: kind, id: id}
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}

func (t *memTx) PurgeByRemoteID(ctx context.Context, kind crmsync.Kind, remoteID string) error {
	rec, err := t.byRemoteID(kind, remoteID, true)
	if errors.Is(err, crmsync.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return t.Purge(ctx, kind, rec.Meta().ID)
}
