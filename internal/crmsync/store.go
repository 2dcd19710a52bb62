package crmsync

import (
	"context"

	"github.com/google/uuid"
)

// SaveOptions tunes one save call.
type SaveOptions struct {
	// SkipSync suppresses the outbound sync trigger. Used when the write
	// originated from the CRM itself or records a remote identifier.
	SkipSync bool
}

// Store is the persistence contract the engines run against.
type Store interface {
	// WithTx runs fn inside one transaction. Post-commit hooks registered
	// through Tx.OnCommit fire only after a successful commit, never on
	// rollback.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a transaction-scoped view of the entity store.
//
// Get and GetByRemoteID read the kind's canonical set, which excludes
// soft-deleted rows. The ForUpdate variants take the per-row exclusive lock
// serializing concurrent sync attempts, and include soft-deleted rows so a
// deactivation can still be pushed.
//
// Save applies the outbound trigger rule: unless opts.SkipSync is set, sync
// is globally disabled, or the row left the canonical set, a push task is
// enqueued in the same transaction. Delete applies the kind's delete policy
// (hard kinds additionally enqueue the remote delete). Purge
// removes a row with no outbound side effects; it is the inbound engine's
// answer to a CRM-reported deletion.
type Tx interface {
	Lookup
	GetAny(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	GetForUpdate(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	GetByRemoteIDForUpdate(ctx context.Context, kind Kind, remoteID string) (Record, error)
	Save(ctx context.Context, rec Record, opts SaveOptions) error
	// SetRemoteID persists the remote identifier assigned on first push. It
	// never re-triggers sync; that would loop.
	SetRemoteID(ctx context.Context, kind Kind, id uuid.UUID, remoteID string) error
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
	Purge(ctx context.Context, kind Kind, id uuid.UUID) error
	PurgeByRemoteID(ctx context.Context, kind Kind, remoteID string) error
	OnCommit(fn func())
}

// KindOf maps a record to its registered kind tag.
func KindOf(rec Record) (Kind, error) {
	switch rec.(type) {
	case *User:
		return KindUser, nil
	case *Shelter:
		return KindShelter, nil
	case *Clinic:
		return KindClinic, nil
	case *Post:
		return KindPost, nil
	case *Comment:
		return KindComment, nil
	case *Pet:
		return KindPet, nil
	case *Schedule:
		return KindSchedule, nil
	case *ServiceOffer:
		return KindServiceOffer, nil
	case *Report:
		return KindReport, nil
	default:
		return "", ErrUnknownKind
	}
}
