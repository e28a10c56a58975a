package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/domain"
)

type AttendeeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AttendeeRepo) With(db DB) *AttendeeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AttendeeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Upsert writes the attendee row for (event, user). An existing row is
// overwritten, including its ticket id.
func (r *AttendeeRepo) Upsert(ctx context.Context, a domain.EventAttendee) error {
	const op = "postgres.AttendeeRepo.Upsert"

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	_, err := r.handle().Exec(ctx,
		`INSERT INTO event_attendees(id, event_id, user_id, attendance_type, status, ticket_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id, user_id) DO UPDATE
		 SET attendance_type = EXCLUDED.attendance_type,
			status = EXCLUDED.status,
			ticket_id = EXCLUDED.ticket_id,
			updated_at = now()`,
		a.ID, a.EventID, a.UserID, string(a.Type), string(a.Status), a.TicketID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// DeleteRSVP removes the attendee row of (event, user) if it was granted by
// an RSVP. Ticket holders are left untouched.
func (r *AttendeeRepo) DeleteRSVP(ctx context.Context, eventID uuid.UUID, userID string) error {
	const op = "postgres.AttendeeRepo.DeleteRSVP"

	_, err := r.handle().Exec(ctx,
		`DELETE FROM event_attendees
		 WHERE event_id = $1 AND user_id = $2 AND attendance_type = $3`,
		eventID, userID, string(domain.AttendanceRSVP),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
