package domain

import (
	"time"

	"github.com/google/uuid"
)

type JoinType string

const (
	JoinRSVP    JoinType = "rsvp"
	JoinTickets JoinType = "tickets"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Event struct {
	ID               uuid.UUID  `json:"id"`
	HostID           string     `json:"hostId"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	StartsAt         time.Time  `json:"startsAt"`
	Location         string     `json:"location"`
	JoinType         JoinType   `json:"joinType"`
	Visibility       Visibility `json:"visibility"`
	RequiresApproval bool       `json:"requiresApproval"`
	AllowPlusOne     bool       `json:"allowPlusOne"`
	Tags             []string   `json:"tags"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Ticket is a sellable tier of an event. A nil Capacity means unlimited.
type Ticket struct {
	ID               uuid.UUID  `json:"id"`
	EventID          uuid.UUID  `json:"eventId"`
	Name             string     `json:"name"`
	PriceCents       int64      `json:"priceCents"`
	Capacity         *int       `json:"capacity"`
	SoldCount        int        `json:"soldCount"`
	SaleStartsAt     *time.Time `json:"saleStartsAt"`
	SaleEndsAt       *time.Time `json:"saleEndsAt"`
	RequiresApproval bool       `json:"requiresApproval"`
}

type TicketAvailability struct {
	TicketID  uuid.UUID `json:"ticketId"`
	Capacity  *int      `json:"capacity"`
	SoldCount int       `json:"soldCount"`
	Remaining *int      `json:"remaining"`
	SoldOut   bool      `json:"soldOut"`
}

// Availability derives the remaining seats of t.
func (t Ticket) Availability() TicketAvailability {
	a := TicketAvailability{
		TicketID:  t.ID,
		Capacity:  t.Capacity,
		SoldCount: t.SoldCount,
	}

	if t.Capacity != nil {
		remaining := max(*t.Capacity-t.SoldCount, 0)
		a.Remaining = &remaining
		a.SoldOut = remaining == 0
	}

	return a
}

type PurchaseStatus string

const (
	PurchaseActive    PurchaseStatus = "active"
	PurchaseCancelled PurchaseStatus = "cancelled"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

type TicketPurchase struct {
	ID               uuid.UUID      `json:"id"`
	TicketID         uuid.UUID      `json:"ticketId"`
	EventID          uuid.UUID      `json:"eventId"`
	UserID           string         `json:"userId"`
	Quantity         int            `json:"quantity"`
	TotalCents       int64          `json:"totalCents"`
	PurchasedAt      time.Time      `json:"purchasedAt"`
	QRCode           string         `json:"qrCode"`
	Status           PurchaseStatus `json:"status"`
	PaymentReference string         `json:"paymentReference"`
	PaymentMethod    string         `json:"paymentMethod"`
}

type RSVPStatus string

const (
	RSVPGoing    RSVPStatus = "going"
	RSVPMaybe    RSVPStatus = "maybe"
	RSVPNotGoing RSVPStatus = "not_going"
)

func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPGoing, RSVPMaybe, RSVPNotGoing:
		return true
	}
	return false
}

type RSVP struct {
	ID        uuid.UUID  `json:"id"`
	EventID   uuid.UUID  `json:"eventId"`
	UserID    string     `json:"userId"`
	Status    RSVPStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

type RSVPWithEvent struct {
	RSVP  RSVP
	Event Event
}

type AttendanceType string

const (
	AttendanceTicket AttendanceType = "ticket"
	AttendanceRSVP   AttendanceType = "rsvp"
)

type AttendeeStatus string

const (
	AttendeeApproved AttendeeStatus = "approved"
	AttendeePending  AttendeeStatus = "pending"
)

// EventAttendee is keyed by (EventID, UserID); at most one row per pair.
type EventAttendee struct {
	ID       uuid.UUID      `json:"id"`
	EventID  uuid.UUID      `json:"eventId"`
	UserID   string         `json:"userId"`
	Type     AttendanceType `json:"attendanceType"`
	Status   AttendeeStatus `json:"status"`
	TicketID *uuid.UUID     `json:"ticketId"`
}
