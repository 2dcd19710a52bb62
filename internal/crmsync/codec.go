package crmsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

type userCodec struct{}

func (userCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	user, ok := rec.(*User)
	if !ok {
		return nil, fmt.Errorf("%w: expected *User, got %T", ErrInvalidInput, rec)
	}
	return map[string]any{
		"localId":      user.ID.String(),
		"firstName":    user.Name,
		"emailAddress": user.Email,
		"phoneNumber":  user.Phone,
		"isActive":     user.IsActive && !user.IsDeleted(),
		"type":         "user",
	}, nil
}

func (userCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	user, ok := rec.(*User)
	if !ok {
		return fmt.Errorf("%w: expected *User, got %T", ErrInvalidInput, rec)
	}
	user.Name = stringField(payload, "firstName")
	user.Email = stringField(payload, "emailAddress")
	user.Phone = anyToString(payload["phoneNumber"])
	user.IsActive = boolField(payload, "isActive", user.IsActive)
	if user.Name == "" {
		return NewValidationError("firstName", "required")
	}
	return nil
}

type shelterCodec struct {
	norm *AddressNormalizer
}

func (c shelterCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	shelter, ok := rec.(*Shelter)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Shelter, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"shelterLocalId":        shelter.ID.String(),
		"name":                  shelter.Name,
		"description":           shelter.Description,
		"legalName":             shelter.LegalName,
		"ogrn":                  shelter.OGRN,
		"phoneNumber":           shelter.Phone,
		"website":               shelter.SiteURL,
		"shelterApprovalStatus": shelter.ApprovalStatus,
		"platformShelter":       true,
	}
	if owner, err := lookup.Get(ctx, KindUser, shelter.OwnerID); err == nil {
		payload["ownerId"] = owner.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c.norm.ToFlat(shelter.Address).ApplyToPayload(payload)
	return payload, nil
}

func (c shelterCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	shelter, ok := rec.(*Shelter)
	if !ok {
		return fmt.Errorf("%w: expected *Shelter, got %T", ErrInvalidInput, rec)
	}
	shelter.Name = stringField(payload, "name")
	shelter.Description = stringField(payload, "description")
	shelter.LegalName = stringField(payload, "legalName")
	shelter.OGRN = anyToString(payload["ogrn"])
	shelter.Phone = anyToString(payload["phoneNumber"])
	shelter.SiteURL = stringField(payload, "website")
	if status := stringField(payload, "shelterApprovalStatus"); status != "" {
		shelter.ApprovalStatus = status
	}
	if shelter.Name == "" {
		return NewValidationError("name", "required")
	}
	ownerRemoteID := stringField(payload, "ownerId")
	switch {
	case ownerRemoteID != "":
		owner, err := lookup.GetByRemoteID(ctx, KindUser, ownerRemoteID)
		if errors.Is(err, ErrNotFound) {
			return NewValidationError("ownerId", "no local user with remote id "+ownerRemoteID)
		}
		if err != nil {
			return err
		}
		shelter.OwnerID = owner.Meta().ID
	case shelter.OwnerID == uuid.Nil:
		return NewValidationError("ownerId", "required")
	}
	addr, err := c.norm.FromFlat(ctx, FlatFromPayload(payload))
	if err != nil {
		return err
	}
	shelter.Address = addr
	return nil
}

type clinicCodec struct {
	norm *AddressNormalizer
}

func (c clinicCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	clinic, ok := rec.(*Clinic)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Clinic, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"clinicLocalId": clinic.ID.String(),
		"name":          clinic.Name,
		"description":   clinic.Description,
		"website":       clinic.Website,
		"isHidden":      clinic.Hidden || clinic.IsDeleted(),
		"ratingData":    clinic.Rating,
	}
	c.norm.ToFlat(clinic.Address).ApplyToPayload(payload)
	return payload, nil
}

func (c clinicCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	clinic, ok := rec.(*Clinic)
	if !ok {
		return fmt.Errorf("%w: expected *Clinic, got %T", ErrInvalidInput, rec)
	}
	clinic.Name = stringField(payload, "name")
	clinic.Description = stringField(payload, "description")
	clinic.Website = stringField(payload, "website")
	clinic.Hidden = boolField(payload, "isHidden", clinic.Hidden)
	if clinic.Name == "" {
		return NewValidationError("name", "required")
	}
	addr, err := c.norm.FromFlat(ctx, FlatFromPayload(payload))
	if err != nil {
		return err
	}
	clinic.Address = addr
	return nil
}

type postCodec struct{}

func (postCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	post, ok := rec.(*Post)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Post, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId": post.ID.String(),
		"type":    post.PostType,
		"title":   post.Title,
		"post":    post.Text,
	}
	if author, err := lookup.Get(ctx, KindUser, post.AuthorID); err == nil {
		payload["authorId"] = author.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (postCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	return NewValidationError("kind", "posts are push-only")
}

type commentCodec struct{}

func (commentCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	comment, ok := rec.(*Comment)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Comment, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId": comment.ID.String(),
		"post":    comment.Text,
	}
	if author, err := lookup.Get(ctx, KindUser, comment.AuthorID); err == nil {
		payload["authorId"] = author.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if parent, err := lookup.Get(ctx, KindPost, comment.PostID); err == nil {
		payload["parentType"] = "Post"
		payload["parentId"] = parent.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (commentCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	return NewValidationError("kind", "comments are push-only")
}

type petCodec struct{}

func (petCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	pet, ok := rec.(*Pet)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Pet, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId": pet.ID.String(),
		"name":    pet.Name,
		"species": pet.Species,
	}
	if owner, err := lookup.Get(ctx, KindUser, pet.OwnerID); err == nil {
		payload["ownerId"] = owner.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (petCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	return NewValidationError("kind", "pets are push-only")
}

type scheduleCodec struct{}

func (scheduleCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	schedule, ok := rec.(*Schedule)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Schedule, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId":   schedule.ID.String(),
		"dayOfWeek": schedule.DayOfWeek,
		"timeFrom":  schedule.TimeFrom,
		"timeTo":    schedule.TimeTo,
	}
	if clinic, err := lookup.Get(ctx, KindClinic, schedule.ClinicID); err == nil {
		payload["accountId"] = clinic.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (scheduleCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	schedule, ok := rec.(*Schedule)
	if !ok {
		return fmt.Errorf("%w: expected *Schedule, got %T", ErrInvalidInput, rec)
	}
	accountRemoteID := stringField(payload, "accountId")
	if accountRemoteID == "" {
		return NewValidationError("accountId", "required")
	}
	clinic, err := lookup.GetByRemoteID(ctx, KindClinic, accountRemoteID)
	if errors.Is(err, ErrNotFound) {
		return NewValidationError("accountId", "no local clinic with remote id "+accountRemoteID)
	}
	if err != nil {
		return err
	}
	schedule.ClinicID = clinic.Meta().ID
	schedule.DayOfWeek = intField(payload, "dayOfWeek", schedule.DayOfWeek)
	schedule.TimeFrom = stringField(payload, "timeFrom")
	schedule.TimeTo = stringField(payload, "timeTo")
	return nil
}

type serviceOfferCodec struct{}

func (serviceOfferCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	offer, ok := rec.(*ServiceOffer)
	if !ok {
		return nil, fmt.Errorf("%w: expected *ServiceOffer, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId": offer.ID.String(),
		"name":    offer.Name,
		"price":   offer.Price,
	}
	if clinic, err := lookup.Get(ctx, KindClinic, offer.ClinicID); err == nil {
		payload["accountId"] = clinic.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (serviceOfferCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	offer, ok := rec.(*ServiceOffer)
	if !ok {
		return fmt.Errorf("%w: expected *ServiceOffer, got %T", ErrInvalidInput, rec)
	}
	accountRemoteID := stringField(payload, "accountId")
	if accountRemoteID == "" {
		return NewValidationError("accountId", "required")
	}
	clinic, err := lookup.GetByRemoteID(ctx, KindClinic, accountRemoteID)
	if errors.Is(err, ErrNotFound) {
		return NewValidationError("accountId", "no local clinic with remote id "+accountRemoteID)
	}
	if err != nil {
		return err
	}
	offer.ClinicID = clinic.Meta().ID
	offer.Name = stringField(payload, "name")
	offer.Price = floatField(payload, "price", offer.Price)
	if offer.Name == "" {
		return NewValidationError("name", "required")
	}
	return nil
}

type reportCodec struct{}

func (reportCodec) Encode(ctx context.Context, rec Record, lookup Lookup) (map[string]any, error) {
	report, ok := rec.(*Report)
	if !ok {
		return nil, fmt.Errorf("%w: expected *Report, got %T", ErrInvalidInput, rec)
	}
	payload := map[string]any{
		"localId":      report.ID.String(),
		"created":      report.CreatedAt,
		"reportedText": report.Text,
		"objectType":   report.ObjectKind,
		"objectId":     report.ObjectID.String(),
		"objectText":   report.ObjectText,
		"imageURLList": report.ImageURLs,
	}
	if author, err := lookup.Get(ctx, KindUser, report.AuthorID); err == nil {
		payload["reportAuthor"] = author.Meta().RemoteID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return payload, nil
}

func (reportCodec) Apply(ctx context.Context, rec Record, payload map[string]any, lookup Lookup) error {
	return NewValidationError("kind", "reports are push-only")
}

func boolField(payload map[string]any, key string, fallback bool) bool {
	value, ok := payload[key]
	if !ok || value == nil {
		return fallback
	}
	b, ok := value.(bool)
	if !ok {
		return fallback
	}
	return b
}

func intField(payload map[string]any, key string, fallback int) int {
	switch value := payload[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	case string:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func floatField(payload map[string]any, key string, fallback float64) float64 {
	switch value := payload[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case string:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// anyToString renders scalar payload values that the CRM sometimes sends as
// numbers (phone numbers, registry codes) into strings.
func anyToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
