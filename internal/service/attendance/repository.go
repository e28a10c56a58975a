package attendance

import (
	"context"

	"github.com/google/uuid"
	"github.com/kirinyoku/eventpass/internal/domain"
	postgresrepo "github.com/kirinyoku/eventpass/internal/repository/postgres"
)

type Repository interface {
	ListActivePurchases(ctx context.Context, userID string) ([]domain.TicketPurchase, error)
	GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	ListGoingRSVPs(ctx context.Context, userID string) ([]domain.RSVPWithEvent, error)
}

type PostgresRepository struct {
	store *postgresrepo.Store
}

func NewPostgresRepository(store *postgresrepo.Store) *PostgresRepository {
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) ListActivePurchases(ctx context.Context, userID string) ([]domain.TicketPurchase, error) {
	return r.store.Purchases().ListActiveByUser(ctx, userID)
}

func (r *PostgresRepository) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	return r.store.Catalog().GetTicket(ctx, id)
}

func (r *PostgresRepository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return r.store.Catalog().GetEvent(ctx, id)
}

func (r *PostgresRepository) ListGoingRSVPs(ctx context.Context, userID string) ([]domain.RSVPWithEvent, error) {
	return r.store.RSVPs().ListGoingByUser(ctx, userID)
}
