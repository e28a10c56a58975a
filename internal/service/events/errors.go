package events

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEvent   = errors.New("invalid event")
	ErrEventNotFound  = errors.New("event not found")
	ErrTicketNotFound = errors.New("ticket not found")
	ErrRSVPNotAllowed = errors.New("event only admits ticket holders")
	ErrInvalidRSVP    = errors.New("invalid rsvp status")
)

// FieldError names the rejected field of an event or ticket tier.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidEvent
}
