package httpgin

import (
	"time"

	"github.com/kirinyoku/eventpass/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type CreatePaymentIntentRequest struct {
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	EventID   string  `json:"eventId" binding:"required"`
	EventName string  `json:"eventName"`
	TicketID  string  `json:"ticketId"`
	UserID    string  `json:"userId"`
	Quantity  int     `json:"quantity" binding:"omitempty,gte=1"`
}

type CreatePaymentIntentResponse struct {
	ClientSecret       string `json:"clientSecret"`
	PaymentIntentID    string `json:"paymentIntentId,omitempty"`
	CustomerID         string `json:"customerId,omitempty"`
	EphemeralKeySecret string `json:"ephemeralKeySecret,omitempty"`
}

type SavePurchaseRequest struct {
	TicketID        string   `json:"ticketId"`
	UserID          string   `json:"userId"`
	EventID         string   `json:"eventId"`
	EventName       string   `json:"eventName"`
	Quantity        int      `json:"quantity"`
	Amount          *float64 `json:"amount" binding:"required"`
	PaymentMethod   string   `json:"paymentMethod"`
	PaymentIntentID string   `json:"paymentIntentId"`
}

type SavePurchaseResponse struct {
	Success    bool     `json:"success"`
	PurchaseID string   `json:"purchaseId"`
	Message    string   `json:"message"`
	Created    bool     `json:"created"`
	Warnings   []string `json:"warnings,omitempty"`
}

type WebhookResponse struct {
	Received bool   `json:"received"`
	Note     string `json:"note,omitempty"`
}

type TicketTierRequest struct {
	Name             string     `json:"name" binding:"required"`
	Price            float64    `json:"price" binding:"gte=0"`
	Capacity         *int       `json:"capacity"`
	SaleStartsAt     *time.Time `json:"saleStartsAt"`
	SaleEndsAt       *time.Time `json:"saleEndsAt"`
	RequiresApproval bool       `json:"requiresApproval"`
}

type CreateEventRequest struct {
	Title            string              `json:"title" binding:"required"`
	Description      string              `json:"description"`
	StartsAt         time.Time           `json:"startsAt" binding:"required"`
	Location         string              `json:"location"`
	JoinType         string              `json:"joinType" binding:"required,oneof=rsvp tickets"`
	Visibility       string              `json:"visibility" binding:"omitempty,oneof=public private"`
	RequiresApproval bool                `json:"requiresApproval"`
	AllowPlusOne     bool                `json:"allowPlusOne"`
	Tags             []string            `json:"tags"`
	Tickets          []TicketTierRequest `json:"tickets" binding:"dive"`
}

type CreateEventResponse struct {
	Event   domain.Event    `json:"event"`
	Tickets []domain.Ticket `json:"tickets"`
}

type RSVPRequest struct {
	Status string `json:"status" binding:"required,oneof=going maybe not_going"`
}
