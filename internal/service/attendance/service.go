package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/repository"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindTicket Kind = "ticket"
	KindRSVP   Kind = "rsvp"
)

const (
	warnPurchasesUnavailable = "ticket purchases could not be loaded"
	warnRSVPsUnavailable     = "rsvps could not be loaded"
	warnPurchaseSkipped      = "some ticket purchases could not be loaded"
)

// Entry is one thing the user attends, ready for display.
type Entry struct {
	ID                uuid.UUID `json:"id"`
	Kind              Kind      `json:"kind"`
	EventID           uuid.UUID `json:"eventId"`
	EventName         string    `json:"eventName"`
	FormattedDateTime string    `json:"formattedDateTime"`
	Location          string    `json:"location"`
	TicketTypeLabel   string    `json:"ticketTypeLabel"`
	PriceLabel        string    `json:"priceLabel"`
	Quantity          int       `json:"quantity,omitempty"`
	QRCode            string    `json:"qrCode,omitempty"`
	StartsAt          time.Time `json:"startsAt"`
	IsPastEvent       bool      `json:"isPastEvent"`
}

type Result struct {
	Upcoming []Entry  `json:"upcoming"`
	Past     []Entry  `json:"past"`
	Warnings []string `json:"warnings"`
}

type Config struct {
	StoreTimeout      time.Duration
	Location          *time.Location
	LookupConcurrency int
}

type Service struct {
	repo   Repository
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(repo Repository, logger *slog.Logger, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 8
	}

	return &Service{
		repo:   repo,
		logger: logger.With(slog.String("component", "attendance")),
		cfg:    cfg,
		now:    time.Now,
	}
}

// List merges the user's paid tickets and "going" RSVPs into one
// chronological list split into upcoming and past events.
//
// A failing source does not fail the call: the other source is still
// returned and the failure is reported in Result.Warnings. Purchases whose
// ticket or event no longer exists are skipped.
//
// Returns:
//   - error: attendance.ErrUnauthenticated if userID is empty.
func (s *Service) List(ctx context.Context, userID string) (*Result, error) {
	const op = "service.attendance.List"

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrUnauthenticated)
	}

	now := s.now()

	var (
		paid, free         []Entry
		paidWarn, freeWarn []string
	)

	var g errgroup.Group
	g.Go(func() error {
		paid, paidWarn = s.paidEntries(ctx, userID, now)
		return nil
	})
	g.Go(func() error {
		free, freeWarn = s.rsvpEntries(ctx, userID, now)
		return nil
	})
	_ = g.Wait()

	entries := append(paid, free...)
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.StartsAt.Compare(b.StartsAt)
	})

	res := &Result{
		Upcoming: []Entry{},
		Past:     []Entry{},
		Warnings: append(paidWarn, freeWarn...),
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}

	for _, e := range entries {
		if e.IsPastEvent {
			res.Past = append(res.Past, e)
		} else {
			res.Upcoming = append(res.Upcoming, e)
		}
	}

	return res, nil
}

func (s *Service) paidEntries(ctx context.Context, userID string, now time.Time) ([]Entry, []string) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	purchases, err := s.repo.ListActivePurchases(lctx, userID)
	cancel()
	if err != nil {
		s.logger.Warn("purchases unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, []string{warnPurchasesUnavailable}
	}

	resolved := make([]*Entry, len(purchases))
	failed := make([]bool, len(purchases))

	var g errgroup.Group
	g.SetLimit(s.cfg.LookupConcurrency)

	for i, p := range purchases {
		i, p := i, p
		g.Go(func() error {
			e, err := s.resolvePurchase(ctx, p, now)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				s.logger.Info("skipping purchase with dangling reference",
					slog.String("purchase_id", p.ID.String()),
					slog.String("ticket_id", p.TicketID.String()),
				)
			case err != nil:
				failed[i] = true
				s.logger.Warn("purchase lookup failed",
					slog.String("purchase_id", p.ID.String()),
					slog.String("error", err.Error()),
				)
			default:
				resolved[i] = e
			}
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	if slices.Contains(failed, true) {
		warnings = append(warnings, warnPurchaseSkipped)
	}

	entries := make([]Entry, 0, len(purchases))
	for _, e := range resolved {
		if e != nil {
			entries = append(entries, *e)
		}
	}

	return entries, warnings
}

func (s *Service) resolvePurchase(ctx context.Context, p domain.TicketPurchase, now time.Time) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	t, err := s.repo.GetTicket(ctx, p.TicketID)
	if err != nil {
		return nil, err
	}

	e, err := s.repo.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, err
	}

	label := strings.TrimSpace(t.Name)
	if label == "" {
		label = domain.LabelGeneralAdmission
	}

	entry := s.entry(*e, now)
	entry.ID = p.ID
	entry.Kind = KindTicket
	entry.TicketTypeLabel = label
	entry.PriceLabel = domain.PriceLabel(p.TotalCents)
	entry.Quantity = p.Quantity
	entry.QRCode = p.QRCode

	return &entry, nil
}

func (s *Service) rsvpEntries(ctx context.Context, userID string, now time.Time) ([]Entry, []string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	rsvps, err := s.repo.ListGoingRSVPs(ctx, userID)
	if err != nil {
		s.logger.Warn("rsvps unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, []string{warnRSVPsUnavailable}
	}

	entries := make([]Entry, 0, len(rsvps))
	for _, r := range rsvps {
		entry := s.entry(r.Event, now)
		entry.ID = r.RSVP.ID
		entry.Kind = KindRSVP
		entry.TicketTypeLabel = domain.LabelRSVP
		entry.PriceLabel = domain.LabelFree
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *Service) entry(e domain.Event, now time.Time) Entry {
	return Entry{
		EventID:           e.ID,
		EventName:         e.Title,
		FormattedDateTime: e.StartsAt.In(s.cfg.Location).Format(domain.DisplayDateTimeLayout),
		Location:          e.Location,
		StartsAt:          e.StartsAt,
		IsPastEvent:       e.StartsAt.Before(now),
	}
}
