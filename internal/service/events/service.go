package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/repository"
	postgresrepo "github.com/kirinyoku/eventpass/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/uow"
)

const maxTxAttempts = 3

type Config struct {
	AvailabilityTTL time.Duration
}

type EventInput struct {
	Title            string
	Description      string
	StartsAt         time.Time
	Location         string
	JoinType         domain.JoinType
	Visibility       domain.Visibility
	RequiresApproval bool
	AllowPlusOne     bool
	Tags             []string
}

type TicketInput struct {
	Name             string
	PriceCents       int64
	Capacity         *int
	SaleStartsAt     *time.Time
	SaleEndsAt       *time.Time
	RequiresApproval bool
}

type RSVPResult struct {
	RSVP domain.RSVP `json:"rsvp"`
	// AttendeeStatus is nil when the answer removed the user's attendance.
	AttendeeStatus *domain.AttendeeStatus `json:"attendeeStatus"`
}

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	uow   *uow.UoW
	cfg   Config
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		uow:   uow.New(store),
		cfg:   cfg,
	}
}

// CreateEvent creates an event hosted by hostID together with its ticket
// tiers in one unit of work. Availability of the new tiers is cached once the
// transaction commits.
//
// Parameters:
//   - ctx: request-scoped context.
//   - hostID: the authenticated host.
//   - in: event details.
//   - tiers: ticket tiers; required for events with the tickets join type.
//
// Returns:
//   - *domain.Event: the created event.
//   - []domain.Ticket: the created tiers.
//   - error: FieldError (matches events.ErrInvalidEvent) if the input is rejected.
func (s *Service) CreateEvent(
	ctx context.Context,
	hostID string,
	in EventInput,
	tiers []TicketInput,
) (*domain.Event, []domain.Ticket, error) {
	const op = "service.events.CreateEvent"

	if err := validateEvent(hostID, &in, tiers); err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	var (
		event   *domain.Event
		tickets []domain.Ticket
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		e, err := s.store.Catalog().With(tx).CreateEvent(ctx, domain.Event{
			HostID:           hostID,
			Title:            strings.TrimSpace(in.Title),
			Description:      in.Description,
			StartsAt:         in.StartsAt,
			Location:         in.Location,
			JoinType:         in.JoinType,
			Visibility:       in.Visibility,
			RequiresApproval: in.RequiresApproval,
			AllowPlusOne:     in.AllowPlusOne,
			Tags:             in.Tags,
		})
		if err != nil {
			return err
		}

		tickets = make([]domain.Ticket, 0, len(tiers))
		for _, t := range tiers {
			tickets = append(tickets, domain.Ticket{
				ID:               uuid.New(),
				EventID:          e.ID,
				Name:             strings.TrimSpace(t.Name),
				PriceCents:       t.PriceCents,
				Capacity:         t.Capacity,
				SaleStartsAt:     t.SaleStartsAt,
				SaleEndsAt:       t.SaleEndsAt,
				RequiresApproval: t.RequiresApproval,
			})
		}

		if err := s.store.Catalog().With(tx).BatchCreateTickets(ctx, tickets); err != nil {
			return err
		}

		if s.cache != nil {
			after(func(ctx context.Context) {
				for _, t := range tickets {
					_ = redisrepo.SetJSON(ctx, s.cache, redisrepo.KeyTicketAvailability(t.ID), t.Availability(), s.cfg.AvailabilityTTL)
				}
			})
		}

		event = e
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s:%w", op, err)
	}

	return event, tickets, nil
}

// RSVP records the user's answer for an event and keeps the attendee list in
// sync: going grants rsvp attendance, pending when the event requires
// approval; any other answer withdraws it.
//
// Returns:
//   - error: events.ErrInvalidRSVP if status is unknown.
//   - error: events.ErrEventNotFound if the event does not exist.
//   - error: events.ErrRSVPNotAllowed if the event sells tickets instead.
func (s *Service) RSVP(
	ctx context.Context,
	eventID uuid.UUID,
	userID string,
	status domain.RSVPStatus,
) (*RSVPResult, error) {
	const op = "service.events.RSVP"

	if !status.Valid() {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidRSVP)
	}

	var (
		res *RSVPResult
		err error
	)

	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		res, err = s.rsvpOnce(ctx, eventID, userID, status)
		if err == nil || !postgresrepo.IsRetryable(err) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return res, nil
}

func (s *Service) rsvpOnce(
	ctx context.Context,
	eventID uuid.UUID,
	userID string,
	status domain.RSVPStatus,
) (*RSVPResult, error) {
	var res RSVPResult

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, _ func(uow.AfterCommit)) error {
		e, err := s.store.Catalog().With(tx).GetEvent(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		if e.JoinType == domain.JoinTickets {
			return ErrRSVPNotAllowed
		}

		r, err := s.store.RSVPs().With(tx).Upsert(ctx, eventID, userID, status)
		if err != nil {
			return err
		}
		res.RSVP = *r

		if status != domain.RSVPGoing {
			return s.store.Attendees().With(tx).DeleteRSVP(ctx, eventID, userID)
		}

		attendeeStatus := domain.AttendeeApproved
		if e.RequiresApproval {
			attendeeStatus = domain.AttendeePending
		}

		if err := s.store.Attendees().With(tx).Upsert(ctx, domain.EventAttendee{
			EventID: eventID,
			UserID:  userID,
			Type:    domain.AttendanceRSVP,
			Status:  attendeeStatus,
		}); err != nil {
			return err
		}

		res.AttendeeStatus = &attendeeStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// TicketAvailability reports the remaining seats of a ticket tier. Results
// are cached briefly and dropped whenever a purchase is recorded.
//
// Returns:
//   - error: events.ErrTicketNotFound if the ticket does not exist.
func (s *Service) TicketAvailability(ctx context.Context, ticketID uuid.UUID) (*domain.TicketAvailability, error) {
	const op = "service.events.TicketAvailability"

	a, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyTicketAvailability(ticketID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.TicketAvailability, error) {
			t, err := s.store.Catalog().GetTicket(ctx, ticketID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.TicketAvailability{}, ErrTicketNotFound
				}
				return domain.TicketAvailability{}, err
			}

			return t.Availability(), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &a, nil
}

func validateEvent(hostID string, in *EventInput, tiers []TicketInput) error {
	if strings.TrimSpace(hostID) == "" {
		return FieldError{Field: "hostId", Reason: "is required"}
	}

	if strings.TrimSpace(in.Title) == "" {
		return FieldError{Field: "title", Reason: "is required"}
	}

	if in.StartsAt.IsZero() {
		return FieldError{Field: "startsAt", Reason: "is required"}
	}

	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPublic
	}

	switch in.Visibility {
	case domain.VisibilityPublic, domain.VisibilityPrivate:
	default:
		return FieldError{Field: "visibility", Reason: "must be public or private"}
	}

	switch in.JoinType {
	case domain.JoinTickets:
		if len(tiers) == 0 {
			return FieldError{Field: "tickets", Reason: "at least one tier is required"}
		}
	case domain.JoinRSVP:
		if len(tiers) > 0 {
			return FieldError{Field: "tickets", Reason: "not allowed for rsvp events"}
		}
	default:
		return FieldError{Field: "joinType", Reason: "must be rsvp or tickets"}
	}

	for i, t := range tiers {
		field := fmt.Sprintf("tickets[%d]", i)

		switch {
		case strings.TrimSpace(t.Name) == "":
			return FieldError{Field: field + ".name", Reason: "is required"}
		case t.PriceCents < 0:
			return FieldError{Field: field + ".price", Reason: "must not be negative"}
		case t.Capacity != nil && *t.Capacity <= 0:
			return FieldError{Field: field + ".capacity", Reason: "must be positive"}
		case t.SaleStartsAt != nil && t.SaleEndsAt != nil && !t.SaleEndsAt.After(*t.SaleStartsAt):
			return FieldError{Field: field + ".saleEndsAt", Reason: "must be after saleStartsAt"}
		}
	}

	return nil
}
