package crmsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Lookup resolves related records while encoding or applying payloads.
// Implementations are transaction-scoped so related reads observe the same
// snapshot as the write.
type Lookup interface {
	Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error)
	GetByRemoteID(ctx context.Context, kind Kind, remoteID string) (Record, error)
}

// Codec translates between a local record and the CRM's flat attribute map.
type Codec interface {
	// Encode serializes rec into the outbound payload.
	Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error)
	// Apply copies an inbound payload onto rec. Kinds that are push-only
	// reject Apply with a validation error.
	Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error
}

// KindConfig is the immutable per-kind configuration record. All kinds are
// registered explicitly at startup; nothing is discovered at runtime.
type KindConfig struct {
	Kind Kind
	// RemotePath is the CRM API entity path, e.g. "Contact" or "Account".
	RemotePath string
	// LocalIDField names the payload field carrying our identifier, used to
	// match inbound records created locally before their RemoteID landed.
	LocalIDField string
	DeletePolicy DeletePolicy
	// InboundDelete: when the CRM reports the source record missing, delete
	// the local row. False for kinds where the CRM is not authoritative for
	// deletion (user contacts).
	InboundDelete bool
	New           func() Record
	Codec         Codec
}

// Action returns the CRM request path for rec: the collection path for
// creates, the record path once a RemoteID exists.
func (c KindConfig) Action(rec Record) string {
	if remoteID := rec.Meta().RemoteID; remoteID != "" {
		return c.RemotePath + "/" + remoteID
	}
	return c.RemotePath
}

// Registry holds the static kind table.
type Registry struct {
	kinds map[Kind]KindConfig
	order []Kind
}

// NewRegistry builds the full kind table. The address normalizer is shared
// by the codecs of address-bearing kinds.
func NewRegistry(norm *AddressNormalizer) *Registry {
	r := &Registry{kinds: map[Kind]KindConfig{}}
	for _, cfg := range []KindConfig{
		{
			Kind:          KindUser,
			RemotePath:    "Contact",
			LocalIDField:  "localId",
			DeletePolicy:  DeleteSoft,
			InboundDelete: false,
			New:           func() Record { return &User{IsActive: true} },
			Codec:         userCodec{},
		},
		{
			Kind:          KindShelter,
			RemotePath:    "Account",
			LocalIDField:  "shelterLocalId",
			DeletePolicy:  DeleteSoft,
			InboundDelete: true,
			New:           func() Record { return &Shelter{} },
			Codec:         shelterCodec{norm: norm},
		},
		{
			Kind:          KindClinic,
			RemotePath:    "Account",
			LocalIDField:  "clinicLocalId",
			DeletePolicy:  DeleteSoft,
			InboundDelete: true,
			New:           func() Record { return &Clinic{} },
			Codec:         clinicCodec{norm: norm},
		},
		{
			Kind:         KindPost,
			RemotePath:   "Post",
			LocalIDField: "localId",
			DeletePolicy: DeleteHard,
			New:          func() Record { return &Post{} },
			Codec:        postCodec{},
		},
		{
			Kind:         KindComment,
			RemotePath:   "Comment",
			LocalIDField: "localId",
			DeletePolicy: DeleteHard,
			New:          func() Record { return &Comment{} },
			Codec:        commentCodec{},
		},
		{
			Kind:         KindPet,
			RemotePath:   "Pet",
			LocalIDField: "localId",
			DeletePolicy: DeleteHard,
			New:          func() Record { return &Pet{} },
			Codec:        petCodec{},
		},
		{
			Kind:          KindSchedule,
			RemotePath:    "AccountSchedule",
			LocalIDField:  "localId",
			DeletePolicy:  DeleteNone,
			InboundDelete: true,
			New:           func() Record { return &Schedule{} },
			Codec:         scheduleCodec{},
		},
		{
			Kind:          KindServiceOffer,
			RemotePath:    "ServiceOffer",
			LocalIDField:  "localId",
			DeletePolicy:  DeleteNone,
			InboundDelete: true,
			New:           func() Record { return &ServiceOffer{} },
			Codec:         serviceOfferCodec{},
		},
		{
			Kind:         KindReport,
			RemotePath:   "Report",
			LocalIDField: "localId",
			DeletePolicy: DeleteNone,
			New:          func() Record { return &Report{} },
			Codec:        reportCodec{},
		},
	} {
		r.kinds[cfg.Kind] = cfg
		r.order = append(r.order, cfg.Kind)
	}
	return r
}

func (r *Registry) Lookup(kind Kind) (KindConfig, error) {
	cfg, ok := r.kinds[kind]
	if !ok {
		return KindConfig{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return cfg, nil
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}
