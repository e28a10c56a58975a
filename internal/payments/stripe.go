package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// Payment intent metadata keys. The webhook reads the purchase back from them.
const (
	MetaTicketID  = "ticket_id"
	MetaUserID    = "user_id"
	MetaEventID   = "event_id"
	MetaEventName = "event_name"
	MetaQuantity  = "quantity"
)

const customerTTL = 24 * time.Hour

var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrPaymentNotFound     = errors.New("payment intent not found")
	ErrPaymentNotSucceeded = errors.New("payment has not succeeded")
	ErrPaymentMismatch     = errors.New("payment was taken for another purchase")
)

type IntentRequest struct {
	AmountCents    int64
	UserID         string
	Phone          string
	EventID        string
	EventName      string
	TicketID       string
	Quantity       int
	IdempotencyKey string
}

type Intent struct {
	ID                 string
	ClientSecret       string
	CustomerID         string
	EphemeralKeySecret string
}

// SucceededPayment is the purchase carried by a payment_intent.succeeded event.
type SucceededPayment struct {
	IntentID      string
	AmountCents   int64
	PaymentMethod string
	TicketID      string
	UserID        string
	EventID       string
	EventName     string
	Quantity      int
}

// HasTicket reports whether the intent was created for a ticket purchase.
func (p SucceededPayment) HasTicket() bool {
	return p.TicketID != "" && p.UserID != "" && p.EventID != ""
}

// Covers reports whether the payment was taken for ticketID of eventID on
// behalf of userID.
func (p SucceededPayment) Covers(ticketID, eventID, userID string) bool {
	return p.HasTicket() &&
		strings.EqualFold(p.TicketID, strings.TrimSpace(ticketID)) &&
		strings.EqualFold(p.EventID, strings.TrimSpace(eventID)) &&
		p.UserID == userID
}

type WebhookEvent struct {
	ID        string
	Type      string
	Succeeded *SucceededPayment
}

// Gateway talks to Stripe.
type Gateway struct {
	client        *stripe.Client
	currency      string
	webhookSecret string
	customers     *redisrepo.Cache
}

// NewGateway builds a Stripe client for secretKey. customers may be nil, in
// which case a new customer is created for every intent.
func NewGateway(secretKey, webhookSecret, currency string, customers *redisrepo.Cache) *Gateway {
	return newGateway(stripe.NewClient(secretKey), webhookSecret, currency, customers)
}

func newGateway(client *stripe.Client, webhookSecret, currency string, customers *redisrepo.Cache) *Gateway {
	return &Gateway{
		client:        client,
		currency:      currency,
		webhookSecret: webhookSecret,
		customers:     customers,
	}
}

// CreatePaymentIntent creates an intent for the payment sheet. The ticket
// details travel as metadata so the webhook can record the purchase. Customer
// and ephemeral key are best effort: the sheet works without them.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	const op = "payments.CreatePaymentIntent"

	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidAmount)
	}

	out := &Intent{}

	if req.UserID != "" {
		if id, err := g.customerID(ctx, req.UserID, req.Phone); err == nil {
			out.CustomerID = id
		}
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if out.CustomerID != "" {
		params.Customer = stripe.String(out.CustomerID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range intentMetadata(req) {
		params.AddMetadata(k, v)
	}

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out.ID = pi.ID
	out.ClientSecret = pi.ClientSecret

	if out.CustomerID != "" {
		keyParams := &stripe.EphemeralKeyCreateParams{
			Customer:      stripe.String(out.CustomerID),
			StripeVersion: stripe.String(stripe.APIVersion),
		}

		if key, err := g.client.V1EphemeralKeys.Create(ctx, keyParams); err == nil {
			out.EphemeralKeySecret = key.Secret
		}
	}

	return out, nil
}

func (g *Gateway) customerID(ctx context.Context, userID, phone string) (string, error) {
	create := func(ctx context.Context) (string, error) {
		params := &stripe.CustomerCreateParams{}
		if phone != "" {
			params.Phone = stripe.String(phone)
		}
		params.AddMetadata(MetaUserID, userID)

		c, err := g.client.V1Customers.Create(ctx, params)
		if err != nil {
			return "", err
		}
		return c.ID, nil
	}

	if g.customers == nil {
		return create(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, g.customers, redisrepo.KeyStripeCustomer(userID), customerTTL, create)
}

// VerifyPayment fetches intentID from Stripe and returns the purchase it
// carries. The amount and metadata are the provider's, not the caller's.
//
// Returns:
//   - error: payments.ErrPaymentNotFound if Stripe has no such intent.
//   - error: payments.ErrPaymentNotSucceeded if the intent is not settled.
func (g *Gateway) VerifyPayment(ctx context.Context, intentID string) (*SucceededPayment, error) {
	const op = "payments.VerifyPayment"

	pi, err := g.client.V1PaymentIntents.Retrieve(ctx, intentID, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing) {
			return nil, fmt.Errorf("%s:%w", op, ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%s:%w: status %s", op, ErrPaymentNotSucceeded, pi.Status)
	}

	return succeededPayment(pi), nil
}

// ParseWebhook verifies the Stripe-Signature header of payload and decodes
// the event.
//
// Returns:
//   - error: payments.ErrInvalidSignature if verification fails.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	const op = "payments.ParseWebhook"

	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w: %w", op, ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: ev.ID, Type: string(ev.Type)}

	if ev.Type == stripe.EventTypePaymentIntentSucceeded {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out.Succeeded = succeededPayment(&pi)
	}

	return out, nil
}

func intentMetadata(req IntentRequest) map[string]string {
	md := map[string]string{}

	set := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}

	set(MetaTicketID, req.TicketID)
	set(MetaUserID, req.UserID)
	set(MetaEventID, req.EventID)
	set(MetaEventName, req.EventName)
	if req.Quantity > 0 {
		md[MetaQuantity] = strconv.Itoa(req.Quantity)
	}

	return md
}

func succeededPayment(pi *stripe.PaymentIntent) *SucceededPayment {
	p := &SucceededPayment{
		IntentID:      pi.ID,
		AmountCents:   pi.Amount,
		PaymentMethod: "card",
		TicketID:      pi.Metadata[MetaTicketID],
		UserID:        pi.Metadata[MetaUserID],
		EventID:       pi.Metadata[MetaEventID],
		EventName:     pi.Metadata[MetaEventName],
		Quantity:      1,
	}

	if pi.AmountReceived > 0 {
		p.AmountCents = pi.AmountReceived
	}

	if q, err := strconv.Atoi(pi.Metadata[MetaQuantity]); err == nil {
		p.Quantity = q
	}

	if len(pi.PaymentMethodTypes) > 0 {
		p.PaymentMethod = pi.PaymentMethodTypes[0]
	}

	return p
}
