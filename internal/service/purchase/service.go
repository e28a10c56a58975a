package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/repository"
)

const (
	defaultPaymentMethod = "card"
	maxCodeAttempts      = 2
)

type Config struct {
	StoreTimeout time.Duration
}

// Input is one completed payment for a ticket. Every entry point (client
// fallback, webhook) translates its own payload into this shape.
type Input struct {
	TicketID         string
	UserID           string
	EventID          string
	EventName        string
	Quantity         int
	TotalCents       int64
	PaymentReference string
	PaymentMethod    string
}

type Result struct {
	Purchase domain.TicketPurchase
	// Created is false when the payment reference had already been recorded.
	Created  bool
	Warnings []string
}

type Service struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func New(repo Repository, notifier Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "purchase")),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Record turns a successful payment into a durable purchase, the buyer's
// attendance and the ticket's sold count.
//
// The purchase insert and the capacity reservation commit together. The
// attendee upsert runs afterwards; its failure is logged and reported in
// Result.Warnings but never undoes the purchase.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: the payment to record.
//
// Returns:
//   - *Result: the stored purchase, whether it was new, and warnings.
//   - error: *ValidationError (matches ErrInvalidInput) if in is malformed; nothing is written.
//   - error: purchase.ErrTicketNotFound if the ticket does not belong to the event.
//   - error: purchase.ErrCapacityExceeded if the quantity no longer fits.
//   - error: purchase.ErrReferenceReused if the reference was recorded for another user, ticket or event.
//   - error: purchase.ErrPersistence if the purchase could not be stored; safe to retry.
func (s *Service) Record(ctx context.Context, in Input) (*Result, error) {
	const op = "service.purchase.Record"

	ticketID, eventID, err := in.validate()
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		method = defaultPaymentMethod
	}

	var (
		stored  *domain.TicketPurchase
		created bool
	)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := newPurchaseCode(s.now())
		if err != nil {
			return nil, fmt.Errorf("%s:%w: %w", op, ErrPersistence, err)
		}

		p := domain.TicketPurchase{
			ID:               uuid.New(),
			TicketID:         ticketID,
			EventID:          eventID,
			UserID:           in.UserID,
			Quantity:         in.Quantity,
			TotalCents:       in.TotalCents,
			QRCode:           code,
			Status:           domain.PurchaseActive,
			PaymentReference: in.PaymentReference,
			PaymentMethod:    method,
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		stored, created, err = s.repo.Record(rctx, p)
		cancel()

		// a unique violation here can only be the purchase code
		if errors.Is(err, repository.ErrConflict) && attempt < maxCodeAttempts {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, s.mapRecordErr(err))
		}
		break
	}

	// a replay must name the same buyer, ticket and event as the recorded sale
	if !created && (stored.UserID != in.UserID || stored.TicketID != ticketID || stored.EventID != eventID) {
		s.logger.Warn("payment reference reused",
			slog.String("payment_reference", in.PaymentReference),
			slog.String("purchase_id", stored.ID.String()),
			slog.String("event_id", eventID.String()),
		)
		return nil, fmt.Errorf("%s:%w", op, ErrReferenceReused)
	}

	res := &Result{Purchase: *stored, Created: created}

	if created {
		s.logger.Info("purchase recorded",
			slog.String("purchase_id", stored.ID.String()),
			slog.String("ticket_id", ticketID.String()),
			slog.String("event_id", eventID.String()),
			slog.String("event_name", in.EventName),
			slog.Int("quantity", stored.Quantity),
			slog.Int64("total_cents", stored.TotalCents),
		)
	} else {
		s.logger.Info("purchase already recorded",
			slog.String("purchase_id", stored.ID.String()),
			slog.String("payment_reference", stored.PaymentReference),
		)
	}

	// Replayed on duplicates too, so a redelivery heals a failed first attempt.
	if err := s.grantAttendance(ctx, eventID, ticketID, in.UserID); err != nil {
		s.logger.Warn("attendee not updated",
			slog.String("purchase_id", stored.ID.String()),
			slog.String("error", err.Error()),
		)
		res.Warnings = append(res.Warnings, "attendance could not be updated; the purchase is recorded")
	}

	if created && s.notifier != nil {
		if err := s.notifier.TicketChanged(context.WithoutCancel(ctx), ticketID, eventID); err != nil {
			s.logger.Debug("ticket change not propagated",
				slog.String("ticket_id", ticketID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return res, nil
}

// QRCode renders the purchase code of purchaseID as a PNG image.
//
// Returns:
//   - error: purchase.ErrPurchaseNotFound if the purchase does not exist.
//   - error: purchase.ErrForbidden if the purchase is not owned by userID.
func (s *Service) QRCode(ctx context.Context, purchaseID uuid.UUID, userID string) ([]byte, error) {
	const op = "service.purchase.QRCode"

	rctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p, err := s.repo.GetPurchase(rctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrPurchaseNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if p.UserID != userID {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	png, err := renderPNG(p.QRCode)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return png, nil
}

func (s *Service) grantAttendance(ctx context.Context, eventID, ticketID uuid.UUID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	return s.repo.UpsertAttendee(ctx, domain.EventAttendee{
		EventID:  eventID,
		UserID:   userID,
		Type:     domain.AttendanceTicket,
		Status:   domain.AttendeeApproved,
		TicketID: &ticketID,
	})
}

func (s *Service) mapRecordErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrTicketNotFound
	case errors.Is(err, repository.ErrCapacityExceeded):
		return ErrCapacityExceeded
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func (in Input) validate() (ticketID, eventID uuid.UUID, err error) {
	ticketID, err = parseID("ticketId", in.TicketID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	eventID, err = parseID("eventId", in.EventID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	switch {
	case strings.TrimSpace(in.UserID) == "":
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "userId", Reason: "is required"}
	case in.Quantity <= 0:
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	case in.TotalCents < 0:
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "amount", Reason: "must not be negative"}
	case strings.TrimSpace(in.PaymentReference) == "":
		return uuid.Nil, uuid.Nil, &ValidationError{Field: "paymentReference", Reason: "is required"}
	}

	return ticketID, eventID, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, &ValidationError{Field: field, Reason: "is required"}
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{Field: field, Reason: "must be a UUID"}
	}

	return id, nil
}
