package httpgin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/auth"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/payments"
	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/service/attendance"
	"github.com/kirinyoku/eventpass/internal/service/events"
	"github.com/kirinyoku/eventpass/internal/service/purchase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "whsec_router_test"
	testTicketID      = "6f1c2a9e-8d1b-4a53-9f0e-6c3c6f1f3b10"
	testEventID       = "0b7d3e1a-52f4-4e0b-8c1e-3f7b1f6a2d44"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePurchases struct {
	mu     sync.Mutex
	inputs []purchase.Input
	err    error
	qr     []byte
}

func (f *fakePurchases) Record(_ context.Context, in purchase.Input) (*purchase.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}

	return &purchase.Result{
		Purchase: domain.TicketPurchase{ID: uuid.New(), UserID: in.UserID, PaymentReference: in.PaymentReference},
		Created:  true,
	}, nil
}

func (f *fakePurchases) QRCode(_ context.Context, _ uuid.UUID, userID string) ([]byte, error) {
	if userID != "user-1" {
		return nil, purchase.ErrForbidden
	}
	return f.qr, nil
}

func (f *fakePurchases) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeAttendance struct {
	res *attendance.Result
}

func (f *fakeAttendance) List(_ context.Context, userID string) (*attendance.Result, error) {
	if userID == "" {
		return nil, attendance.ErrUnauthenticated
	}
	return f.res, nil
}

type fakeEvents struct{}

func (fakeEvents) CreateEvent(_ context.Context, hostID string, in events.EventInput, _ []events.TicketInput) (*domain.Event, []domain.Ticket, error) {
	if in.JoinType == domain.JoinTickets {
		return nil, nil, events.FieldError{Field: "tickets", Reason: "at least one tier is required"}
	}
	return &domain.Event{ID: uuid.New(), HostID: hostID, Title: in.Title, JoinType: in.JoinType}, nil, nil
}

func (fakeEvents) RSVP(_ context.Context, eventID uuid.UUID, userID string, status domain.RSVPStatus) (*events.RSVPResult, error) {
	return &events.RSVPResult{RSVP: domain.RSVP{EventID: eventID, UserID: userID, Status: status}}, nil
}

func (fakeEvents) TicketAvailability(_ context.Context, ticketID uuid.UUID) (*domain.TicketAvailability, error) {
	return nil, events.ErrTicketNotFound
}

// fakePayments verifies webhooks for real and never calls the provider API.
type fakePayments struct {
	*payments.Gateway
	intents []payments.IntentRequest
	settled map[string]*payments.SucceededPayment
}

func (f *fakePayments) VerifyPayment(_ context.Context, intentID string) (*payments.SucceededPayment, error) {
	p, ok := f.settled[intentID]
	if !ok {
		return nil, payments.ErrPaymentNotFound
	}
	if p == nil {
		return nil, payments.ErrPaymentNotSucceeded
	}
	return p, nil
}

func (f *fakePayments) CreatePaymentIntent(_ context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	f.intents = append(f.intents, req)
	return &payments.Intent{ID: "pi_new", ClientSecret: "pi_new_secret_x"}, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memIdempotency) Begin(_ context.Context, key string) (redisrepo.IdemState, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vals[key]
	switch {
	case !ok:
		m.vals[key] = ""
		return redisrepo.IdemAcquired, "", nil
	case v == "":
		return redisrepo.IdemInFlight, "", nil
	default:
		return redisrepo.IdemDone, v, nil
	}
}

func (m *memIdempotency) Complete(_ context.Context, key, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = payload
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (redisrepo.Decision, error) {
	return redisrepo.Decision{Allowed: false, Count: 11, RetryAfter: 1500 * time.Millisecond}, nil
}

type harness struct {
	router    *gin.Engine
	purchases *fakePurchases
	payments  *fakePayments
}

func newHarness(t *testing.T, mutate func(d *Deps)) *harness {
	t.Helper()

	h := &harness{
		purchases: &fakePurchases{qr: []byte("\x89PNG fake")},
		payments: &fakePayments{
			Gateway: payments.NewGateway("sk_test", testWebhookSecret, "usd", nil),
			settled: map[string]*payments.SucceededPayment{
				"pi_777": {
					IntentID:      "pi_777",
					AmountCents:   3000,
					PaymentMethod: "card",
					TicketID:      testTicketID,
					UserID:        "user-1",
					EventID:       testEventID,
					Quantity:      2,
				},
				"pi_pending": nil,
			},
		},
	}

	d := Deps{
		Purchases: h.purchases,
		Attendance: &fakeAttendance{res: &attendance.Result{
			Upcoming: []attendance.Entry{{EventName: "Concert", PriceLabel: "$15.00", TicketTypeLabel: "VIP"}},
			Past:     []attendance.Entry{},
			Warnings: []string{},
		}},
		Events:      fakeEvents{},
		Payments:    h.payments,
		Idempotency: &memIdempotency{vals: map[string]string{}},
		Verifier:    auth.NewVerifier(testJWTSecret, "authenticated"),
	}
	if mutate != nil {
		mutate(&d)
	}

	h.router = NewRouter(d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func bearer(t *testing.T, userID string) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"aud":   "authenticated",
		"phone": "+15550100",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	return "Bearer " + tok
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body, authz string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	return req
}

func webhookPayload(eventID, metadata string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_abc",
			"object": "payment_intent",
			"amount": 1500,
			"amount_received": 1500,
			"payment_method_types": ["card"],
			"metadata": %s
		}}
	}`, eventID, metadata)
}

func webhookRequest(payload, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", signature)
	return req
}

func sign(payload string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func ticketMetadata() string {
	return fmt.Sprintf(`{"ticket_id":%q,"user_id":"user-1","event_id":%q,"event_name":"Concert","quantity":"1"}`,
		testTicketID, testEventID)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestWebhook_InvalidSignatureWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	payload := webhookPayload("evt_1", ticketMetadata())

	w := h.do(webhookRequest(payload, "t=1,v1=forged"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(webhookRequest(payload, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 0, h.purchases.calls())
}

func TestWebhook_RecordsPurchaseOnce(t *testing.T) {
	h := newHarness(t, nil)
	payload := webhookPayload("evt_2", ticketMetadata())

	w := h.do(webhookRequest(payload, sign(payload)))
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, 1, h.purchases.calls())
	in := h.purchases.inputs[0]
	assert.Equal(t, testTicketID, in.TicketID)
	assert.Equal(t, "user-1", in.UserID)
	assert.Equal(t, testEventID, in.EventID)
	assert.Equal(t, 1, in.Quantity)
	assert.Equal(t, int64(1500), in.TotalCents)
	assert.Equal(t, "pi_abc", in.PaymentReference)

	w = h.do(webhookRequest(payload, sign(payload)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate delivery")
	assert.Equal(t, 1, h.purchases.calls())
}

func TestWebhook_WithoutTicketMetadataIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	payload := webhookPayload("evt_3", `{}`)

	w := h.do(webhookRequest(payload, sign(payload)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.purchases.calls())
}

func TestWebhook_RecorderErrors(t *testing.T) {
	cases := map[error]int{
		purchase.ErrCapacityExceeded:                 http.StatusConflict,
		purchase.ErrTicketNotFound:                   http.StatusNotFound,
		fmt.Errorf("op:%w", purchase.ErrPersistence): http.StatusInternalServerError,
	}

	for recErr, status := range cases {
		t.Run(recErr.Error(), func(t *testing.T) {
			h := newHarness(t, nil)
			h.purchases.err = recErr
			payload := webhookPayload("evt_"+uuid.NewString(), ticketMetadata())

			w := h.do(webhookRequest(payload, sign(payload)))
			assert.Equal(t, status, w.Code)

			// the key is released so the provider's retry is processed
			h.purchases.err = nil
			w = h.do(webhookRequest(payload, sign(payload)))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestSavePurchase_RequiresToken(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", `{"amount": 15}`, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(jsonRequest(http.MethodPost, "/api/save-purchase", `{"amount": 15}`, "Bearer nope"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, h.purchases.calls())
}

func TestSavePurchase_UserMismatch(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"userId":"user-2","quantity":1,"amount":15}`, testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, h.purchases.calls())
}

func TestSavePurchase_Success(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"eventName":"Concert","quantity":2,"amount":30,"paymentMethod":"card","paymentIntentId":"pi_777"}`,
		testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, w.Code)

	var resp SavePurchaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.PurchaseID)

	require.Equal(t, 1, h.purchases.calls())
	in := h.purchases.inputs[0]
	assert.Equal(t, "user-1", in.UserID)
	assert.Equal(t, int64(3000), in.TotalCents)
	assert.Equal(t, "pi_777", in.PaymentReference)
}

func TestSavePurchase_AmountComesFromProvider(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":5,"amount":0.5,"paymentIntentId":"pi_777"}`,
		testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, 1, h.purchases.calls())
	in := h.purchases.inputs[0]
	assert.Equal(t, int64(3000), in.TotalCents)
	assert.Equal(t, 2, in.Quantity)
}

func TestSavePurchase_UnverifiedIntentIsRejected(t *testing.T) {
	cases := []struct {
		name     string
		intentID string
		ticketID string
		eventID  string
		user     string
		code     int
	}{
		{"unknown intent", "pi_forged", testTicketID, testEventID, "user-1", http.StatusBadRequest},
		{"not settled", "pi_pending", testTicketID, testEventID, "user-1", http.StatusConflict},
		{"other ticket", "pi_777", uuid.NewString(), testEventID, "user-1", http.StatusConflict},
		{"other event", "pi_777", testTicketID, uuid.NewString(), "user-1", http.StatusConflict},
		{"other buyer", "pi_777", testTicketID, testEventID, "user-2", http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":2,"amount":30,"paymentIntentId":%q}`,
				tc.ticketID, tc.eventID, tc.intentID)

			w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, tc.user)))
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, 0, h.purchases.calls())
		})
	}
}

func TestSavePurchase_GeneratesManualReference(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":1,"amount":0}`, testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(h.purchases.inputs[0].PaymentReference, "manual_"))
}

func TestSavePurchase_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":1,"amount":15}`, testTicketID, testEventID)

	send := func() *httptest.ResponseRecorder {
		req := jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1"))
		req.Header.Set("Idempotency-Key", "k-1")
		return h.do(req)
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)
	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, h.purchases.calls())
	assert.Equal(t, "k-1", h.purchases.inputs[0].PaymentReference)
}

func TestSavePurchase_ValidationError(t *testing.T) {
	h := newHarness(t, nil)
	h.purchases.err = fmt.Errorf("op:%w", &purchase.ValidationError{Field: "quantity", Reason: "must be positive"})
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":0,"amount":15}`, testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "quantity must be positive", resp.Details)
}

func TestSavePurchase_MissingAmount(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"ticketId":%q,"eventId":%q,"quantity":1}`, testTicketID, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/save-purchase", body, bearer(t, "user-1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, h.purchases.calls())
}

func TestMyTickets_ETag(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me/tickets", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "private, no-cache", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Body.String(), `"priceLabel":"$15.00"`)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req = httptest.NewRequest(http.MethodGet, "/api/me/tickets", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	req.Header.Set("If-None-Match", etag)
	w = h.do(req)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestCreatePaymentIntent(t *testing.T) {
	h := newHarness(t, nil)
	body := fmt.Sprintf(`{"amount":15.5,"eventId":%q,"eventName":"Concert","ticketId":%q,"quantity":1}`, testEventID, testTicketID)

	w := h.do(jsonRequest(http.MethodPost, "/api/create-payment-intent", body, bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, w.Code)

	var resp CreatePaymentIntentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pi_new_secret_x", resp.ClientSecret)

	require.Len(t, h.payments.intents, 1)
	assert.Equal(t, int64(1550), h.payments.intents[0].AmountCents)
	assert.Equal(t, "user-1", h.payments.intents[0].UserID)
	assert.Equal(t, "+15550100", h.payments.intents[0].Phone)
}

func TestCreatePaymentIntent_RateLimited(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Limiter = denyLimiter{} })
	body := fmt.Sprintf(`{"amount":15,"eventId":%q}`, testEventID)

	w := h.do(jsonRequest(http.MethodPost, "/api/create-payment-intent", body, bearer(t, "user-1")))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Empty(t, h.payments.intents)
}

func TestPurchaseQR(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/purchases/" + uuid.NewString() + "/qr"

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, "user-2"))
	w = h.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/purchases/not-a-uuid/qr", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	w = h.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsRoutes(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(jsonRequest(http.MethodPost, "/api/events",
		`{"title":"Picnic","startsAt":"2026-06-01T12:00:00Z","joinType":"rsvp"}`, bearer(t, "host-1")))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"hostId":"host-1"`)

	w = h.do(jsonRequest(http.MethodPost, "/api/events",
		`{"title":"Gig","startsAt":"2026-06-01T12:00:00Z","joinType":"tickets"}`, bearer(t, "host-1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(jsonRequest(http.MethodPost, "/api/events",
		`{"title":"Gig","startsAt":"2026-06-01T12:00:00Z","joinType":"lottery"}`, bearer(t, "host-1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(jsonRequest(http.MethodPost, "/api/events/"+testEventID+"/rsvp", `{"status":"going"}`, bearer(t, "user-1")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"going"`)

	w = h.do(jsonRequest(http.MethodPost, "/api/events/"+testEventID+"/rsvp", `{"status":"perhaps"}`, bearer(t, "user-1")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/tickets/"+testTicketID+"/availability", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
