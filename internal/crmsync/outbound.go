package crmsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmapi"
)

// skipDuplicateCheckField suppresses the CRM's server-side duplicate
// detection; we rely on the remote_id mapping instead.
const skipDuplicateCheckField = "skipDuplicateCheck"

// Outbound pushes local state to the CRM. It owns the create-vs-update
// decision and the remote-id assignment; retry policy belongs to the
// scheduler, so every remote failure propagates unchanged.
type Outbound struct {
	store    Store
	client   crmapi.Client
	registry *Registry
	events   *Broadcaster
	log      *zap.Logger
}

func NewOutbound(store Store, client crmapi.Client, registry *Registry, events *Broadcaster, log *zap.Logger) *Outbound {
	if log == nil {
		log = zap.NewNop()
	}
	return &Outbound{store: store, client: client, registry: registry, events: events, log: log}
}

// Sync re-reads the entity under its row lock and issues exactly one remote
// write: PATCH when a remote id exists, POST otherwise. On a successful
// create the returned id is stored in the same transaction through a path
// that does not re-trigger sync. A row that vanished before the task ran is
// a logged no-op.
func (o *Outbound) Sync(ctx context.Context, kind Kind, id uuid.UUID) error {
	cfg, err := o.registry.Lookup(kind)
	if err != nil {
		return err
	}
	return o.store.WithTx(ctx, func(tx Tx) error {
		rec, err := tx.GetForUpdate(ctx, kind, id)
		if errors.Is(err, ErrNotFound) {
			o.log.Info("sync target no longer exists, skipping",
				zap.String("kind", string(kind)), zap.String("id", id.String()))
			return nil
		}
		if err != nil {
			return err
		}

		payload, err := cfg.Codec.Encode(ctx, rec, tx)
		if err != nil {
			return err
		}
		payload[skipDuplicateCheckField] = true

		meta := rec.Meta()
		method := http.MethodPost
		action := cfg.Action(rec)
		creating := meta.RemoteID == ""
		if !creating {
			method = http.MethodPatch
		}

		resp, err := o.client.Request(ctx, method, action, payload, nil)
		if err != nil {
			return err
		}

		event := SyncEvent{Kind: kind, EntityID: id, RemoteID: meta.RemoteID, Direction: DirectionOutbound, Action: EventUpdate}
		if creating {
			remoteID := stringField(resp, "id")
			if remoteID == "" {
				return fmt.Errorf("create response for %s/%s carries no id", kind, id)
			}
			if err := tx.SetRemoteID(ctx, kind, id, remoteID); err != nil {
				return err
			}
			event.RemoteID = remoteID
			event.Action = EventCreate
		}
		tx.OnCommit(func() { o.events.Publish(event) })
		return nil
	})
}

// SyncDelete propagates a local hard delete. The local row is already gone,
// so the task snapshot carries the remote action path. There is no local
// state to update afterward.
func (o *Outbound) SyncDelete(ctx context.Context, task Task) error {
	if task.RemoteAction == "" {
		// The entity was deleted before its first push ever succeeded.
		o.log.Info("delete task has no remote action, skipping",
			zap.String("kind", string(task.Kind)), zap.String("id", task.EntityID.String()))
		return nil
	}
	if _, err := o.client.Request(ctx, http.MethodDelete, task.RemoteAction, nil, nil); err != nil {
		return err
	}
	o.events.Publish(SyncEvent{
		Kind:      task.Kind,
		EntityID:  task.EntityID,
		Direction: DirectionOutbound,
		Action:    EventDelete,
	})
	return nil
}

// Link creates a many-to-many relation the flat serializer cannot express.
// A missing remote id here is a programming error, not a retryable
// condition.
func (o *Outbound) Link(ctx context.Context, kind Kind, id uuid.UUID, relatedID, linkName string) error {
	cfg, err := o.registry.Lookup(kind)
	if err != nil {
		return err
	}
	return o.store.WithTx(ctx, func(tx Tx) error {
		rec, err := tx.GetAny(ctx, kind, id)
		if err != nil {
			return err
		}
		if rec.Meta().RemoteID == "" {
			return fmt.Errorf("link %s on %s/%s: %w", linkName, kind, id, ErrMissingRemoteID)
		}
		action := cfg.Action(rec) + "/" + linkName
		_, err = o.client.Request(ctx, http.MethodPost, action, nil, map[string]any{"id": relatedID})
		return err
	})
}
