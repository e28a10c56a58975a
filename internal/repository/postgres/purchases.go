package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/repository"
)

const maxRecordAttempts = 3

const purchaseColumns = `id, ticket_id, event_id, user_id, quantity, total_cents, purchased_at,
	qr_code, status, payment_reference, payment_method`

type PurchaseRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PurchaseRepo) With(db DB) *PurchaseRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PurchaseRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Record durably stores a purchase and reserves its seats on the ticket.
//
// Both writes share one READ COMMITTED transaction, so the conditional
// sold_count update re-evaluates its predicate against concurrently committed
// purchases instead of failing with a serialization error.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - p: purchase to insert; ID, EventID, QRCode and PaymentReference must be set.
//     The ticket must belong to p.EventID.
//
// Returns:
//   - *domain.TicketPurchase: the stored purchase.
//   - bool: false when a purchase with the same payment reference already existed;
//     the existing row is returned unchanged and may name another user, ticket or event.
//   - error: repository.ErrNotFound if the ticket does not exist for the event.
//   - error: repository.ErrCapacityExceeded if the quantity does not fit.
//   - error: repository.ErrConflict if the generated QR code collided.
func (r *PurchaseRepo) Record(ctx context.Context, p domain.TicketPurchase) (*domain.TicketPurchase, bool, error) {
	const op = "postgres.PurchaseRepo.Record"

	if r.db != nil {
		out, created, err := r.recordCore(ctx, r.db, p)
		if err != nil {
			return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return out, created, nil
	}

	var (
		out     *domain.TicketPurchase
		created bool
		err     error
	)

	for attempt := 1; attempt <= maxRecordAttempts; attempt++ {
		out, created, err = r.recordTx(ctx, p)
		if err == nil || !IsRetryable(err) {
			break
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, created, nil
}

// Get retrieves a purchase by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the purchase is not found.
func (r *PurchaseRepo) Get(ctx context.Context, id uuid.UUID) (*domain.TicketPurchase, error) {
	const op = "postgres.PurchaseRepo.Get"

	p, err := scanPurchase(r.handle().QueryRow(ctx,
		`SELECT `+purchaseColumns+`
		 FROM ticket_purchases WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return p, nil
}

// ListActiveByUser lists the active purchases of a user, oldest first.
func (r *PurchaseRepo) ListActiveByUser(ctx context.Context, userID string) ([]domain.TicketPurchase, error) {
	const op = "postgres.PurchaseRepo.ListActiveByUser"

	rows, err := r.handle().Query(ctx,
		`SELECT `+purchaseColumns+`
		 FROM ticket_purchases
		 WHERE user_id = $1 AND status = $2
		 ORDER BY purchased_at ASC`,
		userID, string(domain.PurchaseActive),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.TicketPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *PurchaseRepo) recordTx(ctx context.Context, p domain.TicketPurchase) (*domain.TicketPurchase, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, false, err
	}

	defer tx.Rollback(ctx)

	out, created, err := r.recordCore(ctx, tx, p)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	return out, created, nil
}

func (r *PurchaseRepo) recordCore(ctx context.Context, db DB, p domain.TicketPurchase) (*domain.TicketPurchase, bool, error) {
	const op = "postgres.PurchaseRepo.recordCore"

	err := db.QueryRow(ctx,
		`INSERT INTO ticket_purchases(id, ticket_id, event_id, user_id, quantity, total_cents,
			qr_code, status, payment_reference, payment_method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (payment_reference) DO NOTHING
		 RETURNING purchased_at`,
		p.ID, p.TicketID, p.EventID, p.UserID, p.Quantity, p.TotalCents,
		p.QRCode, string(p.Status), p.PaymentReference, p.PaymentMethod,
	).Scan(&p.PurchasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanPurchase(db.QueryRow(ctx,
			`SELECT `+purchaseColumns+`
			 FROM ticket_purchases WHERE payment_reference = $1`,
			p.PaymentReference,
		))
		if err != nil {
			return nil, false, fmt.Errorf("%s:%w", op, err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	tag, err := db.Exec(ctx,
		`UPDATE tickets
		 SET sold_count = sold_count + $3
		 WHERE id = $1
			AND event_id = $2
			AND (capacity IS NULL OR sold_count + $3 <= capacity)`,
		p.TicketID, p.EventID, p.Quantity,
	)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM tickets WHERE id = $1 AND event_id = $2)`,
			p.TicketID, p.EventID,
		).Scan(&exists); err != nil {
			return nil, false, fmt.Errorf("%s:%w", op, err)
		}

		if !exists {
			return nil, false, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		return nil, false, fmt.Errorf("%s:%w", op, repository.ErrCapacityExceeded)
	}

	return &p, true, nil
}

func scanPurchase(row pgx.Row) (*domain.TicketPurchase, error) {
	var p domain.TicketPurchase
	var status string

	if err := row.Scan(
		&p.ID,
		&p.TicketID,
		&p.EventID,
		&p.UserID,
		&p.Quantity,
		&p.TotalCents,
		&p.PurchasedAt,
		&p.QRCode,
		&status,
		&p.PaymentReference,
		&p.PaymentMethod,
	); err != nil {
		return nil, err
	}

	p.Status = domain.PurchaseStatus(status)

	return &p, nil
}
