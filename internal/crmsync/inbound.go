package crmsync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentworkforce/crmsync/internal/crmapi"
)

// syncFailedField is the remote-side annotation recording that local
// processing of a pushed record failed.
const syncFailedField = "syncFailed"

// ReconcileResult is the terminal state of one reconciliation call.
type ReconcileResult int

const (
	// ReconcileDone: the local entity was created or updated.
	ReconcileDone ReconcileResult = iota
	// ReconcileDeleted: the CRM reported the record gone and the local row
	// was removed.
	ReconcileDeleted
	// ReconcileNoop: the CRM reported the record gone but this kind does
	// not treat the CRM as authoritative for deletion.
	ReconcileNoop
)

// Inbound folds CRM-pushed records into local entities.
type Inbound struct {
	store    Store
	client   crmapi.Client
	registry *Registry
	events   *Broadcaster
	log      *zap.Logger
}

func NewInbound(store Store, client crmapi.Client, registry *Registry, events *Broadcaster, log *zap.Logger) *Inbound {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbound{store: store, client: client, registry: registry, events: events, log: log}
}

// Reconcile fetches the remote record and resolves it to zero or one local
// row: first by remote id under the row lock, then by the embedded local-id
// field (covering the window where a local create has not yet received its
// remote id), else a new row is created. A remote 404 drives the kind's
// delete-or-noop behavior and is reported as success. Any other failure is
// best-effort annotated on the remote record before propagating.
func (in *Inbound) Reconcile(ctx context.Context, kind Kind, remoteID string) (ReconcileResult, error) {
	cfg, err := in.registry.Lookup(kind)
	if err != nil {
		return ReconcileDone, err
	}
	action := cfg.RemotePath + "/" + remoteID

	result := ReconcileDone
	err = in.store.WithTx(ctx, func(tx Tx) error {
		matched, err := tx.GetByRemoteIDForUpdate(ctx, kind, remoteID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		payload, err := in.client.Request(ctx, http.MethodGet, action, nil, nil)
		if errors.Is(err, crmapi.ErrRemoteNotFound) {
			if matched != nil && cfg.InboundDelete {
				if err := tx.Purge(ctx, kind, matched.Meta().ID); err != nil {
					return err
				}
				deleted := SyncEvent{Kind: kind, EntityID: matched.Meta().ID, RemoteID: remoteID, Direction: DirectionInbound, Action: EventDelete}
				tx.OnCommit(func() { in.events.Publish(deleted) })
				result = ReconcileDeleted
				return nil
			}
			result = ReconcileNoop
			return nil
		}
		if err != nil {
			return err
		}

		rec := matched
		if rec == nil {
			rec, err = in.resolveByLocalID(ctx, tx, cfg, payload)
			if err != nil {
				return err
			}
		}
		eventAction := EventUpdate
		if rec == nil {
			rec = cfg.New()
			rec.Meta().ID = uuid.New()
			rec.Meta().CreatedAt = time.Now().UTC()
			eventAction = EventCreate
		}
		if err := applyRemote(ctx, cfg, rec, payload, remoteID, tx); err != nil {
			return err
		}
		if err := tx.Save(ctx, rec, SaveOptions{SkipSync: true}); err != nil {
			return err
		}
		done := SyncEvent{Kind: kind, EntityID: rec.Meta().ID, RemoteID: remoteID, Direction: DirectionInbound, Action: eventAction}
		tx.OnCommit(func() { in.events.Publish(done) })
		return nil
	})
	if err != nil {
		in.reportFailure(ctx, action, err)
		return ReconcileDone, err
	}
	return result, nil
}

func (in *Inbound) resolveByLocalID(ctx context.Context, tx Tx, cfg KindConfig, payload map[string]any) (Record, error) {
	raw := stringField(payload, cfg.LocalIDField)
	if raw == "" {
		return nil, nil
	}
	localID, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	rec, err := tx.Get(ctx, cfg.Kind, localID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// applyRemote copies the payload onto rec and binds the remote identifier.
// A row already bound to a different remote id rejects the write: remote
// ids are assigned at most once.
func applyRemote(ctx context.Context, cfg KindConfig, rec Record, payload map[string]any, remoteID string, lookup Lookup) error {
	if err := cfg.Codec.Apply(ctx, rec, payload, lookup); err != nil {
		return err
	}
	meta := rec.Meta()
	if meta.RemoteID != "" && meta.RemoteID != remoteID {
		return NewValidationError(cfg.LocalIDField, "record is bound to a different remote id")
	}
	meta.RemoteID = remoteID
	meta.UpdatedAt = time.Now().UTC()
	return nil
}

// reportFailure writes the sync-failure annotation back to the CRM. It is
// fire-and-forget: its own failure is logged and swallowed so it cannot
// mask the original error.
func (in *Inbound) reportFailure(ctx context.Context, action string, cause error) {
	if _, err := in.client.Request(ctx, http.MethodPatch, action, nil, map[string]any{syncFailedField: cause.Error()}); err != nil {
		in.log.Warn("failed to report sync failure to crm",
			zap.String("action", action), zap.Error(err))
	}
}
