package httpgin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/auth"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/payments"
	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/service/attendance"
	"github.com/kirinyoku/eventpass/internal/service/events"
	"github.com/kirinyoku/eventpass/internal/service/purchase"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type PurchaseService interface {
	Record(ctx context.Context, in purchase.Input) (*purchase.Result, error)
	QRCode(ctx context.Context, purchaseID uuid.UUID, userID string) ([]byte, error)
}

type AttendanceService interface {
	List(ctx context.Context, userID string) (*attendance.Result, error)
}

type EventService interface {
	CreateEvent(ctx context.Context, hostID string, in events.EventInput, tiers []events.TicketInput) (*domain.Event, []domain.Ticket, error)
	RSVP(ctx context.Context, eventID uuid.UUID, userID string, status domain.RSVPStatus) (*events.RSVPResult, error)
	TicketAvailability(ctx context.Context, ticketID uuid.UUID) (*domain.TicketAvailability, error)
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error)
	VerifyPayment(ctx context.Context, intentID string) (*payments.SucceededPayment, error)
	ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (redisrepo.IdemState, string, error)
	Complete(ctx context.Context, key, payload string) error
	Release(ctx context.Context, key string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, scope string) (redisrepo.Decision, error)
}

type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// Deps are the collaborators of the HTTP relay. Idempotency and Limiter are
// optional.
type Deps struct {
	Purchases   PurchaseService
	Attendance  AttendanceService
	Events      EventService
	Payments    PaymentGateway
	Idempotency IdempotencyStore
	Limiter     RateLimiter
	Verifier    TokenVerifier
}

func NewRouter(d Deps, logger *slog.Logger, middlewares ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/health", handleHealth())

	api := r.Group("/api")

	// signed by the payment provider, not by the user
	api.POST("/webhook", handleWebhook(d, logger))
	api.GET("/tickets/:id/availability", handleTicketAvailability(d))

	authed := api.Group("", RequireAuth(d.Verifier))
	{
		authed.POST(
			"/create-payment-intent",
			RateLimit(d.Limiter, "payment-intent", logger),
			handleCreatePaymentIntent(d),
		)
		authed.POST("/save-purchase", handleSavePurchase(d))
		authed.GET("/me/tickets", handleMyTickets(d))
		authed.GET("/purchases/:id/qr", handlePurchaseQR(d))
		authed.POST("/events", handleCreateEvent(d))
		authed.POST("/events/:id/rsvp", handleRSVP(d))
	}

	return r
}

// @Summary  Liveness
// @Success  200  {object}  HealthResponse
// @Router   /health [get]
func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok", Message: "eventpass relay is running"})
	}
}

// --- Helpers ---

func currentUser(c *gin.Context) *auth.User {
	return auth.UserFrom(c.Request.Context())
}

// ownUserID resolves the userId of a request body against the caller.
func ownUserID(c *gin.Context, bodyUserID string) (string, bool) {
	u := currentUser(c)
	if u == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
		return "", false
	}

	if bodyUserID != "" && bodyUserID != u.ID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "userId does not match the authenticated user"})
		return "", false
	}

	return u.ID, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: details})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var verr *purchase.ValidationError
	var ferr events.FieldError

	switch {
	// purchase service
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid purchase", Details: verr.Error()})
	case errors.Is(err, purchase.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found for event"})
	case errors.Is(err, purchase.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "not enough tickets left"})
	case errors.Is(err, purchase.ErrReferenceReused):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment already used for another purchase"})
	case errors.Is(err, purchase.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "purchase not found"})
	case errors.Is(err, purchase.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "purchase belongs to another user"})
	case errors.Is(err, purchase.ErrPersistence):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save purchase", Details: "please try again"})
	// events service
	case errors.As(err, &ferr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid event", Details: ferr.Error()})
	case errors.Is(err, events.ErrInvalidRSVP):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid rsvp status"})
	case errors.Is(err, events.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, events.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
	case errors.Is(err, events.ErrRSVPNotAllowed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "event only admits ticket holders"})
	// identity
	case errors.Is(err, attendance.ErrUnauthenticated), errors.Is(err, auth.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
	// payments
	case errors.Is(err, payments.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid amount"})
	case errors.Is(err, payments.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
	case errors.Is(err, payments.ErrPaymentNotFound):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown payment intent"})
	case errors.Is(err, payments.ErrPaymentNotSucceeded):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment has not succeeded"})
	case errors.Is(err, payments.ErrPaymentMismatch):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "payment was taken for another purchase"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
