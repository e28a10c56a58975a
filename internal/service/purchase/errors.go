package purchase

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid purchase")
	ErrTicketNotFound   = errors.New("ticket not found for event")
	ErrCapacityExceeded = errors.New("not enough tickets left")
	ErrPersistence      = errors.New("purchase could not be recorded")
	ErrReferenceReused  = errors.New("payment reference belongs to another purchase")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrForbidden        = errors.New("purchase belongs to another user")
)

// ValidationError names the offending input field. It matches ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
