package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/domain"
)

const eventColumns = `e.id, e.host_id, e.title, e.description, e.starts_at, e.location,
	e.join_type, e.visibility, e.requires_approval, e.allow_plus_one, e.tags, e.created_at`

const ticketColumns = `id, event_id, name, price_cents, capacity, sold_count,
	sale_starts_at, sale_ends_at, requires_approval`

// CatalogRepo reads and writes events and their ticket tiers.
type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the event is not found.
func (r *CatalogRepo) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	const op = "postgres.CatalogRepo.GetEvent"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events e WHERE e.id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return e, nil
}

// GetTicket retrieves a ticket tier by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the ticket is not found.
func (r *CatalogRepo) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgres.CatalogRepo.GetTicket"

	var t domain.Ticket
	if err := r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+`
		 FROM tickets WHERE id = $1`,
		id,
	).Scan(
		&t.ID,
		&t.EventID,
		&t.Name,
		&t.PriceCents,
		&t.Capacity,
		&t.SoldCount,
		&t.SaleStartsAt,
		&t.SaleEndsAt,
		&t.RequiresApproval,
	); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

func (r *CatalogRepo) CreateEvent(ctx context.Context, e domain.Event) (*domain.Event, error) {
	const op = "postgres.CatalogRepo.CreateEvent"

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}

	if err := r.handle().QueryRow(ctx,
		`INSERT INTO events(id, host_id, title, description, starts_at, location,
			join_type, visibility, requires_approval, allow_plus_one, tags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		e.ID, e.HostID, e.Title, e.Description, e.StartsAt, e.Location,
		string(e.JoinType), string(e.Visibility), e.RequiresApproval, e.AllowPlusOne, e.Tags,
	).Scan(&e.CreatedAt); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &e, nil
}

// BatchCreateTickets inserts the ticket tiers of one event in a single round trip.
func (r *CatalogRepo) BatchCreateTickets(ctx context.Context, tickets []domain.Ticket) error {
	const op = "postgres.CatalogRepo.BatchCreateTickets"

	if len(tickets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, event_id, name, price_cents, capacity, sold_count,
				sale_starts_at, sale_ends_at, requires_approval)
			 VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)`,
			t.ID, t.EventID, t.Name, t.PriceCents, t.Capacity,
			t.SaleStartsAt, t.SaleEndsAt, t.RequiresApproval,
		)
	}
	if err := r.handle().SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e          domain.Event
		joinType   string
		visibility string
	)

	if err := row.Scan(
		&e.ID,
		&e.HostID,
		&e.Title,
		&e.Description,
		&e.StartsAt,
		&e.Location,
		&joinType,
		&visibility,
		&e.RequiresApproval,
		&e.AllowPlusOne,
		&e.Tags,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}

	e.JoinType = domain.JoinType(joinType)
	e.Visibility = domain.Visibility(visibility)

	return &e, nil
}
