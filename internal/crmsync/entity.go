package crmsync

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags one syncable entity family. Kinds are fixed at startup through
// the registry; there is no runtime discovery.
type Kind string

const (
	KindUser         Kind = "user"
	KindShelter      Kind = "shelter"
	KindClinic       Kind = "clinic"
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindPet          Kind = "pet"
	KindSchedule     Kind = "schedule"
	KindServiceOffer Kind = "service_offer"
	KindReport       Kind = "report"
)

// DeletePolicy controls what a local delete propagates to the CRM.
type DeletePolicy int

const (
	// DeleteNone: local deletes are not propagated.
	DeleteNone DeletePolicy = iota
	// DeleteSoft: the row is soft-deleted locally and the deactivation is
	// pushed as a regular update.
	DeleteSoft
	// DeleteHard: the local row is removed and a remote DELETE is enqueued
	// after the deleting transaction commits.
	DeleteHard
)

// Syncable carries the fields every remote-synced entity shares. RemoteID is
// empty until the first successful push and is never reassigned once set.
type Syncable struct {
	ID        uuid.UUID  `json:"id"`
	RemoteID  string     `json:"remoteId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (s *Syncable) Meta() *Syncable { return s }

func (s *Syncable) IsDeleted() bool { return s.DeletedAt != nil }

func (s *Syncable) MarkDeleted(now time.Time) {
	s.DeletedAt = &now
	s.UpdatedAt = now
}

func (s *Syncable) Undelete(now time.Time) {
	s.DeletedAt = nil
	s.UpdatedAt = now
}

// Record is any local entity capable of remote sync.
type Record interface {
	Meta() *Syncable
}

type User struct {
	Syncable
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	IsActive bool   `json:"isActive"`
	IsStaff  bool   `json:"isStaff"`
}

type Shelter struct {
	Syncable
	Name           string    `json:"name"`
	OwnerID        uuid.UUID `json:"ownerId"`
	Description    string    `json:"description"`
	LegalName      string    `json:"legalName"`
	OGRN           string    `json:"ogrn"`
	Phone          string    `json:"phone"`
	SiteURL        string    `json:"siteUrl"`
	ApprovalStatus string    `json:"approvalStatus"`
	Address        Address   `json:"address"`
}

const (
	ApprovalPending  = "N"
	ApprovalApproved = "A"
	ApprovalRejected = "R"
)

func (s *Shelter) IsApproved() bool { return s.ApprovalStatus == ApprovalApproved }

type Clinic struct {
	Syncable
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Website     string  `json:"website"`
	Hidden      bool    `json:"hidden"`
	Rating      float64 `json:"rating"`
	Address     Address `json:"address"`
}

const (
	PostTypeAdoption     = "adoptionpost"
	PostTypeShelter      = "shelterpost"
	PostTypeClinicReview = "clinicreview"
)

type Post struct {
	Syncable
	PostType string    `json:"postType"`
	AuthorID uuid.UUID `json:"authorId"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
}

type Comment struct {
	Syncable
	AuthorID uuid.UUID `json:"authorId"`
	PostID   uuid.UUID `json:"postId"`
	Text     string    `json:"text"`
}

type Pet struct {
	Syncable
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"ownerId"`
	Species string    `json:"species"`
}

type Schedule struct {
	Syncable
	ClinicID  uuid.UUID `json:"clinicId"`
	DayOfWeek int       `json:"dayOfWeek"`
	TimeFrom  string    `json:"timeFrom"`
	TimeTo    string    `json:"timeTo"`
}

type ServiceOffer struct {
	Syncable
	ClinicID uuid.UUID `json:"clinicId"`
	Name     string    `json:"name"`
	Price    float64   `json:"price"`
}

// Report is push-only: reports originate locally and are never pulled back.
type Report struct {
	Syncable
	ObjectKind string    `json:"objectKind"`
	ObjectID   uuid.UUID `json:"objectId"`
	AuthorID   uuid.UUID `json:"authorId"`
	Text       string    `json:"text"`
	ObjectText string    `json:"objectText"`
	ImageURLs  []string  `json:"imageUrls,omitempty"`
}
