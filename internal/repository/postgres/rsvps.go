package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/domain"
)

type RSVPRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RSVPRepo) With(db DB) *RSVPRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RSVPRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Upsert records the user's answer for an event; one row per (event, user).
func (r *RSVPRepo) Upsert(
	ctx context.Context,
	eventID uuid.UUID,
	userID string,
	status domain.RSVPStatus,
) (*domain.RSVP, error) {
	const op = "postgres.RSVPRepo.Upsert"

	rsvp := domain.RSVP{
		EventID: eventID,
		UserID:  userID,
		Status:  status,
	}

	if err := r.handle().QueryRow(ctx,
		`INSERT INTO rsvps(id, event_id, user_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, user_id) DO UPDATE
		 SET status = EXCLUDED.status
		 RETURNING id, created_at`,
		uuid.New(), eventID, userID, string(status),
	).Scan(&rsvp.ID, &rsvp.CreatedAt); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &rsvp, nil
}

// ListGoingByUser returns the user's "going" RSVPs joined to their events,
// earliest event first.
func (r *RSVPRepo) ListGoingByUser(ctx context.Context, userID string) ([]domain.RSVPWithEvent, error) {
	const op = "postgres.RSVPRepo.ListGoingByUser"

	rows, err := r.handle().Query(ctx,
		`SELECT r.id, r.event_id, r.user_id, r.status, r.created_at, `+eventColumns+`
		 FROM rsvps r
		 JOIN events e ON e.id = r.event_id
		 WHERE r.user_id = $1 AND r.status = $2
		 ORDER BY e.starts_at ASC, r.id`,
		userID, string(domain.RSVPGoing),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.RSVPWithEvent
	for rows.Next() {
		var (
			item       domain.RSVPWithEvent
			status     string
			joinType   string
			visibility string
		)

		if err := rows.Scan(
			&item.RSVP.ID,
			&item.RSVP.EventID,
			&item.RSVP.UserID,
			&status,
			&item.RSVP.CreatedAt,
			&item.Event.ID,
			&item.Event.HostID,
			&item.Event.Title,
			&item.Event.Description,
			&item.Event.StartsAt,
			&item.Event.Location,
			&joinType,
			&visibility,
			&item.Event.RequiresApproval,
			&item.Event.AllowPlusOne,
			&item.Event.Tags,
			&item.Event.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		item.RSVP.Status = domain.RSVPStatus(status)
		item.Event.JoinType = domain.JoinType(joinType)
		item.Event.Visibility = domain.Visibility(visibility)

		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
