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

// platformShelterField is the eligibility flag on the account payload: a
// shelter-typed account only syncs when the CRM marks it as tracked by this
// platform.
const platformShelterField = "platformShelter"

// AccountResolver disambiguates the CRM's "Account" entity, which is not
// type-discriminated: one account may represent a shelter, a clinic, both,
// or neither. The auxiliary category list decides.
type AccountResolver struct {
	store    Store
	client   crmapi.Client
	registry *Registry
	events   *Broadcaster
	log      *zap.Logger

	// categoryKinds maps a remote category name to the local kind it
	// selects.
	categoryKinds map[string]Kind
}

const (
	DefaultShelterCategory = "animal shelter"
	DefaultClinicCategory  = "veterinary clinic"
)

func NewAccountResolver(store Store, client crmapi.Client, registry *Registry, events *Broadcaster, log *zap.Logger, shelterCategory, clinicCategory string) *AccountResolver {
	if log == nil {
		log = zap.NewNop()
	}
	if shelterCategory == "" {
		shelterCategory = DefaultShelterCategory
	}
	if clinicCategory == "" {
		clinicCategory = DefaultClinicCategory
	}
	return &AccountResolver{
		store:    store,
		client:   client,
		registry: registry,
		events:   events,
		log:      log,
		categoryKinds: map[string]Kind{
			shelterCategory: KindShelter,
			clinicCategory:  KindClinic,
		},
	}
}

// Resolve pulls the account and reconciles every eligible category into its
// local kind. The whole pull is one transaction: either all eligible
// categories commit or none do. A 404 on the account fetch deletes both
// candidate kinds' rows carrying the remote id and propagates not-found.
// Zero eligible categories is a validation failure, annotated remotely.
func (r *AccountResolver) Resolve(ctx context.Context, remoteID string) error {
	action := "Account/" + remoteID

	remoteGone := false
	err := r.store.WithTx(ctx, func(tx Tx) error {
		locked := map[Kind]Record{}
		for _, kind := range []Kind{KindShelter, KindClinic} {
			rec, err := tx.GetByRemoteIDForUpdate(ctx, kind, remoteID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			locked[kind] = rec
		}

		payload, err := r.client.Request(ctx, http.MethodGet, action, nil, nil)
		if errors.Is(err, crmapi.ErrRemoteNotFound) {
			// Commit the purge, then surface not-found to the caller.
			remoteGone = true
			for _, kind := range []Kind{KindShelter, KindClinic} {
				if err := tx.PurgeByRemoteID(ctx, kind, remoteID); err != nil {
					return err
				}
			}
			return nil
		}
		if err != nil {
			return err
		}

		categories, err := r.fetchCategories(ctx, action)
		if err != nil {
			return err
		}

		eligible := 0
		for _, name := range categories {
			kind, ok := r.categoryKinds[name]
			if !ok {
				continue
			}
			if kind == KindShelter && !boolField(payload, platformShelterField, false) {
				continue
			}
			eligible++
			if err := r.reconcileKind(ctx, tx, kind, remoteID, payload, locked[kind]); err != nil {
				return err
			}
		}
		if eligible == 0 {
			return NewValidationError("accountCategories",
				"account type not specified: expected a shelter or clinic category")
		}
		return nil
	})
	if err != nil {
		// Not-found is control flow; only real failures are annotated.
		if !errors.Is(err, crmapi.ErrRemoteNotFound) {
			r.reportFailure(ctx, action, err)
		}
		return err
	}
	if remoteGone {
		return crmapi.ErrRemoteNotFound
	}
	return nil
}

func (r *AccountResolver) fetchCategories(ctx context.Context, action string) ([]string, error) {
	resp, err := r.client.Request(ctx, http.MethodGet, action+"/accountCategories", nil, nil)
	if err != nil {
		return nil, err
	}
	rawList, _ := resp["list"].([]any)
	names := make([]string, 0, len(rawList))
	for _, item := range rawList {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name := stringField(entry, "name"); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// reconcileKind applies the account payload to one local kind using the
// same resolution order as the inbound engine: locked row by remote id,
// then the kind's embedded local-id field, else create.
func (r *AccountResolver) reconcileKind(ctx context.Context, tx Tx, kind Kind, remoteID string, payload map[string]any, matched Record) error {
	cfg, err := r.registry.Lookup(kind)
	if err != nil {
		return err
	}
	rec := matched
	if rec == nil {
		if raw := stringField(payload, cfg.LocalIDField); raw != "" {
			if localID, parseErr := uuid.Parse(raw); parseErr == nil {
				found, getErr := tx.Get(ctx, kind, localID)
				if getErr != nil && !errors.Is(getErr, ErrNotFound) {
					return getErr
				}
				rec = found
			}
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
	evt := SyncEvent{Kind: kind, EntityID: rec.Meta().ID, RemoteID: remoteID, Direction: DirectionInbound, Action: eventAction}
	tx.OnCommit(func() { r.events.Publish(evt) })
	return nil
}

func (r *AccountResolver) reportFailure(ctx context.Context, action string, cause error) {
	if _, err := r.client.Request(ctx, http.MethodPatch, action, nil, map[string]any{syncFailedField: cause.Error()}); err != nil {
		r.log.Warn("failed to report sync failure to crm",
			zap.String("action", action), zap.Error(err))
	}
}
