package purchase

import (
	"context"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	postgresrepo "github.com/kirinyoku/eventpass/internal/repository/postgres"
)

type Repository interface {
	// Record returns the existing purchase with false when the payment
	// reference was already recorded.
	Record(ctx context.Context, p domain.TicketPurchase) (*domain.TicketPurchase, bool, error)
	UpsertAttendee(ctx context.Context, a domain.EventAttendee) error
	GetPurchase(ctx context.Context, id uuid.UUID) (*domain.TicketPurchase, error)
}

// Notifier is told about every newly sold purchase.
type Notifier interface {
	TicketChanged(ctx context.Context, ticketID, eventID uuid.UUID) error
}

// PostgresRepository backs Repository with the pgx store.
type PostgresRepository struct {
	store *postgresrepo.Store
}

func NewPostgresRepository(store *postgresrepo.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Record(ctx context.Context, p domain.TicketPurchase) (*domain.TicketPurchase, bool, error) {
	return r.store.Purchases().Record(ctx, p)
}

func (r *PostgresRepository) UpsertAttendee(ctx context.Context, a domain.EventAttendee) error {
	return r.store.Attendees().Upsert(ctx, a)
}

func (r *PostgresRepository) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.TicketPurchase, error) {
	return r.store.Purchases().Get(ctx, id)
}
