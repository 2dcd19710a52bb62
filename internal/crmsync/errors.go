package crmsync

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRemoteID = errors.New("missing remote id")
	ErrUnknownKind     = errors.New("unknown entity kind")
	ErrSyncDisabled    = errors.New("crm sync disabled")
)

// ValidationError reports a bad inbound payload. It is never retried and
// surfaces as a 400-class response to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err carries a *ValidationError anywhere in
// its chain.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
