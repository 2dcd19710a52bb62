// Package store persists syncable entities and the outbound task queue in
// Postgres, with an in-memory variant for tests and single-node development.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

const (
	entitiesTable   = "crmsync_entities"
	tasksTable      = "crmsync_tasks"
	deadLetterTable = "crmsync_dead_letter"

	migrateTimeout = 5 * time.Second
)

var entitiesSchema = fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		kind TEXT NOT NULL,
		id UUID NOT NULL,
		remote_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ,
		PRIMARY KEY (kind, id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS crmsync_entities_remote_idx
		ON %s (kind, remote_id) WHERE remote_id <> '';
`, entitiesTable, entitiesTable)

// PostgresStore implements crmsync.Store on a shared *sql.DB. The outbound
// trigger rule lives here: entity writes and the tasks they spawn commit in
// the same database transaction, so a task is never visible for a write that
// rolled back.
type PostgresStore struct {
	db          *sql.DB
	registry    *crmsync.Registry
	queue       *TaskQueue
	syncEnabled bool
	log         *zap.Logger
}

func NewPostgresStore(db *sql.DB, registry *crmsync.Registry, queue *TaskQueue, syncEnabled bool, log *zap.Logger) (*PostgresStore, error) {
	if db == nil || registry == nil || queue == nil {
		return nil, crmsync.ErrInvalidInput
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, entitiesSchema); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", entitiesTable, err)
	}
	return &PostgresStore{
		db:          db,
		registry:    registry,
		queue:       queue,
		syncEnabled: syncEnabled,
		log:         log,
	}, nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx crmsync.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &pgTx{store: s, sqlTx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return err
	}
	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

type pgTx struct {
	store *PostgresStore
	sqlTx *sql.Tx
	hooks []func()
}

func (t *pgTx) OnCommit(fn func()) {
	if fn != nil {
		t.hooks = append(t.hooks, fn)
	}
}

const entityColumns = "id, remote_id, payload, created_at, updated_at, deleted_at"

func (t *pgTx) Get(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE kind = $1 AND id = $2 AND deleted_at IS NULL", entityColumns, entitiesTable)
	return t.queryOne(ctx, kind, query, string(kind), id)
}

func (t *pgTx) GetAny(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE kind = $1 AND id = $2", entityColumns, entitiesTable)
	return t.queryOne(ctx, kind, query, string(kind), id)
}

func (t *pgTx) GetByRemoteID(ctx context.Context, kind crmsync.Kind, remoteID string) (crmsync.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE kind = $1 AND remote_id = $2 AND deleted_at IS NULL", entityColumns, entitiesTable)
	return t.queryOne(ctx, kind, query, string(kind), remoteID)
}

func (t *pgTx) GetForUpdate(ctx context.Context, kind crmsync.Kind, id uuid.UUID) (crmsync.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE kind = $1 AND id = $2 FOR UPDATE", entityColumns, entitiesTable)
	return t.queryOne(ctx, kind, query, string(kind), id)
}

func (t *pgTx) GetByRemoteIDForUpdate(ctx context.Context, kind crmsync.Kind, remoteID string) (crmsync.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE kind = $1 AND remote_id = $2 FOR UPDATE", entityColumns, entitiesTable)
	return t.queryOne(ctx, kind, query, string(kind), remoteID)
}

func (t *pgTx) queryOne(ctx context.Context, kind crmsync.Kind, query string, args ...any) (crmsync.Record, error) {
	var (
		id        uuid.UUID
		remoteID  string
		payload   string
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)
	err := t.sqlTx.QueryRowContext(ctx, query, args...).Scan(&id, &remoteID, &payload, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", crmsync.ErrNotFound, kind)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := t.store.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	rec := cfg.New()
	if err := json.Unmarshal([]byte(payload), rec); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	// Columns are canonical for the shared metadata.
	meta := rec.Meta()
	meta.ID = id
	meta.RemoteID = remoteID
	meta.CreatedAt = createdAt
	meta.UpdatedAt = updatedAt
	meta.DeletedAt = nil
	if deletedAt.Valid {
		at := deletedAt.Time
		meta.DeletedAt = &at
	}
	return rec, nil
}

func (t *pgTx) Save(ctx context.Context, rec crmsync.Record, opts crmsync.SaveOptions) error {
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

	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (kind, id, remote_id, payload, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, id) DO UPDATE SET
			remote_id = EXCLUDED.remote_id,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at`, entitiesTable)
	var deletedAt any
	if meta.DeletedAt != nil {
		deletedAt = *meta.DeletedAt
	}
	if _, err := t.sqlTx.ExecContext(ctx, query, string(kind), meta.ID, meta.RemoteID, string(payload), meta.CreatedAt, meta.UpdatedAt, deletedAt); err != nil {
		return err
	}
	if opts.SkipSync || !t.store.syncEnabled || meta.IsDeleted() {
		return nil
	}
	return t.store.queue.enqueueTx(ctx, t.sqlTx, crmsync.Task{
		Type:     crmsync.TaskPush,
		Kind:     kind,
		EntityID: meta.ID,
	})
}

func (t *pgTx) SetRemoteID(ctx context.Context, kind crmsync.Kind, id uuid.UUID, remoteID string) error {
	query := fmt.Sprintf("UPDATE %s SET remote_id = $3 WHERE kind = $1 AND id = $2", entitiesTable)
	res, err := t.sqlTx.ExecContext(ctx, query, string(kind), id, remoteID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %s", crmsync.ErrNotFound, kind, id)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, kind crmsync.Kind, id uuid.UUID) error {
	cfg, err := t.store.registry.Lookup(kind)
	if err != nil {
		return err
	}
	rec, err := t.GetForUpdate(ctx, kind, id)
	if err != nil {
		return err
	}
	meta := rec.Meta()
	switch cfg.DeletePolicy {
	case crmsync.DeleteSoft:
		meta.MarkDeleted(time.Now().UTC())
		if err := t.Save(ctx, rec, crmsync.SaveOptions{SkipSync: true}); err != nil {
			return err
		}
		if !t.store.syncEnabled {
			return nil
		}
		return t.store.queue.enqueueTx(ctx, t.sqlTx, crmsync.Task{
			Type:     crmsync.TaskPush,
			Kind:     kind,
			EntityID: id,
		})
	case crmsync.DeleteHard:
		if err := t.Purge(ctx, kind, id); err != nil {
			return err
		}
		if !t.store.syncEnabled || meta.RemoteID == "" {
			return nil
		}
		return t.store.queue.enqueueTx(ctx, t.sqlTx, crmsync.Task{
			Type:         crmsync.TaskDelete,
			Kind:         kind,
			EntityID:     id,
			RemoteAction: cfg.RemotePath + "/" + meta.RemoteID,
		})
	default:
		return t.Purge(ctx, kind, id)
	}
}

func (t *pgTx) Purge(ctx context.Context, kind crmsync.Kind, id uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE kind = $1 AND id = $2", entitiesTable)
	_, err := t.sqlTx.ExecContext(ctx, query, string(kind), id)
	return err
}

func (t *pgTx) PurgeByRemoteID(ctx context.Context, kind crmsync.Kind, remoteID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE kind = $1 AND remote_id = $2", entitiesTable)
	_, err := t.sqlTx.ExecContext(ctx, query, string(kind), remoteID)
	return err
}
