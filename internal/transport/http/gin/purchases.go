package httpgin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/payments"
	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/service/purchase"
)

const maxWebhookBytes = 64 << 10

// @Summary  Create payment intent
// @Param    Authorization    header  string                      true   "Bearer token"
// @Param    Idempotency-Key  header  string                      false  "forwarded to the provider"
// @Param    req              body    CreatePaymentIntentRequest  true   "payload"
// @Success  200  {object}  CreatePaymentIntentResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  429  {object}  ErrorResponse "rate limited"
// @Failure  500  {object}  ErrorResponse
// @Router   /api/create-payment-intent [post]
func handleCreatePaymentIntent(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePaymentIntentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, ok := ownUserID(c, req.UserID)
		if !ok {
			return
		}

		intent, err := d.Payments.CreatePaymentIntent(c.Request.Context(), payments.IntentRequest{
			AmountCents:    domain.CentsFromAmount(req.Amount),
			UserID:         userID,
			Phone:          currentUser(c).Phone,
			EventID:        req.EventID,
			EventName:      req.EventName,
			TicketID:       req.TicketID,
			Quantity:       req.Quantity,
			IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		})
		if err != nil {
			if errors.Is(err, payments.ErrInvalidAmount) {
				respondErr(c, err)
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "failed to create payment intent",
				Details: err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, CreatePaymentIntentResponse{
			ClientSecret:       intent.ClientSecret,
			PaymentIntentID:    intent.ID,
			CustomerID:         intent.CustomerID,
			EphemeralKeySecret: intent.EphemeralKeySecret,
		})
	}
}

// @Summary  Save purchase (client fallback)
// @Param    Authorization    header  string               true   "Bearer token"
// @Param    Idempotency-Key  header  string               false  "replays the first response"
// @Param    req              body    SavePurchaseRequest  true   "payload"
// @Success  200  {object}  SavePurchaseResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse "ticket not found for event"
// @Failure  409  {object}  ErrorResponse "capacity exceeded / request in progress / payment not settled"
// @Failure  500  {object}  ErrorResponse
// @Router   /api/save-purchase [post]
func handleSavePurchase(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SavePurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		userID, ok := ownUserID(c, req.UserID)
		if !ok {
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		totalCents := domain.CentsFromAmount(*req.Amount)
		quantity := req.Quantity

		reference := strings.TrimSpace(req.PaymentIntentID)
		if reference != "" {
			paid, err := d.Payments.VerifyPayment(c.Request.Context(), reference)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !paid.Covers(req.TicketID, req.EventID, userID) {
				respondErr(c, payments.ErrPaymentMismatch)
				return
			}
			totalCents = paid.AmountCents
			quantity = paid.Quantity
		}
		if reference == "" {
			reference = idemKey
		}
		if reference == "" {
			reference = "manual_" + uuid.NewString()
		}

		var storageKey string
		if d.Idempotency != nil && idemKey != "" {
			storageKey = redisrepo.KeyIdemPurchase(userID, idemKey)

			state, payload, err := d.Idempotency.Begin(c.Request.Context(), storageKey)
			if err != nil {
				respondErr(c, err)
				return
			}

			switch state {
			case redisrepo.IdemDone:
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(payload))
				return
			case redisrepo.IdemInFlight:
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		res, err := d.Purchases.Record(c.Request.Context(), purchase.Input{
			TicketID:         req.TicketID,
			UserID:           userID,
			EventID:          req.EventID,
			EventName:        req.EventName,
			Quantity:         quantity,
			TotalCents:       totalCents,
			PaymentReference: reference,
			PaymentMethod:    req.PaymentMethod,
		})
		if err != nil {
			if storageKey != "" {
				_ = d.Idempotency.Release(c.Request.Context(), storageKey)
			}
			respondErr(c, err)
			return
		}

		resp := SavePurchaseResponse{
			Success:    true,
			PurchaseID: res.Purchase.ID.String(),
			Message:    "Purchase saved successfully",
			Created:    res.Created,
			Warnings:   res.Warnings,
		}
		if !res.Created {
			resp.Message = "Purchase already recorded"
		}

		if storageKey != "" {
			b, _ := json.Marshal(resp)
			_ = d.Idempotency.Complete(c.Request.Context(), storageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Payment provider webhook
// @Param    Stripe-Signature  header  string  true  "provider signature"
// @Success  200  {object}  WebhookResponse
// @Failure  400  {object}  ErrorResponse "invalid signature"
// @Failure  409  {object}  ErrorResponse
// @Failure  500  {object}  ErrorResponse
// @Router   /api/webhook [post]
func handleWebhook(d Deps, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
		if err != nil {
			badRequest(c, "unreadable body")
			return
		}

		ev, err := d.Payments.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			logger.Warn("webhook rejected", slog.String("error", err.Error()))
			respondErr(c, err)
			return
		}

		paid := ev.Succeeded
		if paid == nil {
			c.JSON(http.StatusOK, WebhookResponse{Received: true})
			return
		}

		if !paid.HasTicket() {
			logger.Info("payment without ticket metadata",
				slog.String("event_id", ev.ID),
				slog.String("payment_intent", paid.IntentID),
			)
			c.JSON(http.StatusOK, WebhookResponse{Received: true, Note: "no ticket metadata"})
			return
		}

		var storageKey string
		if d.Idempotency != nil && ev.ID != "" {
			storageKey = redisrepo.KeyIdemWebhook(ev.ID)

			state, _, err := d.Idempotency.Begin(c.Request.Context(), storageKey)
			if err != nil {
				respondErr(c, err)
				return
			}

			switch state {
			case redisrepo.IdemDone:
				c.JSON(http.StatusOK, WebhookResponse{Received: true, Note: "duplicate delivery"})
				return
			case redisrepo.IdemInFlight:
				c.JSON(http.StatusConflict, ErrorResponse{Error: "delivery in progress"})
				return
			}
		}

		res, err := d.Purchases.Record(c.Request.Context(), purchase.Input{
			TicketID:         paid.TicketID,
			UserID:           paid.UserID,
			EventID:          paid.EventID,
			EventName:        paid.EventName,
			Quantity:         paid.Quantity,
			TotalCents:       paid.AmountCents,
			PaymentReference: paid.IntentID,
			PaymentMethod:    paid.PaymentMethod,
		})
		if err != nil {
			if storageKey != "" {
				_ = d.Idempotency.Release(c.Request.Context(), storageKey)
			}
			respondErr(c, err)
			return
		}

		if storageKey != "" {
			_ = d.Idempotency.Complete(c.Request.Context(), storageKey, res.Purchase.ID.String())
		}

		c.JSON(http.StatusOK, WebhookResponse{Received: true})
	}
}

// @Summary  Purchase QR code
// @Param    Authorization  header  string  true  "Bearer token"
// @Param    id             path    string  true  "Purchase ID (uuid)"
// @Produce  png
// @Success  200
// @Failure  403  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /api/purchases/{id}/qr [get]
func handlePurchaseQR(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}

		png, err := d.Purchases.QRCode(c.Request.Context(), id, currentUser(c).ID)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, "image/png", png)
	}
}
