package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/domain"
	"github.com/kirinyoku/eventpass/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDSNEnv = "EVENTPASS_TEST_DATABASE_URL"

// newTestStore applies the schema to a fresh Postgres schema that is dropped
// when the test ends.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}

	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 16

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	require.NoError(t, err)

	_, err = pool.Exec(ctx, string(ddl))
	require.NoError(t, err)

	return NewStore(pool)
}

func seedTicket(t *testing.T, s *Store, capacity *int) (eventID, ticketID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	e, err := s.Catalog().CreateEvent(ctx, domain.Event{
		HostID:     "host-1",
		Title:      "Harbour Lights",
		StartsAt:   time.Date(2026, time.July, 4, 20, 0, 0, 0, time.UTC),
		JoinType:   domain.JoinTickets,
		Visibility: domain.VisibilityPublic,
	})
	require.NoError(t, err)

	ticketID = uuid.New()
	require.NoError(t, s.Catalog().BatchCreateTickets(ctx, []domain.Ticket{{
		ID:         ticketID,
		EventID:    e.ID,
		Name:       "General",
		PriceCents: 1500,
		Capacity:   capacity,
	}}))

	return e.ID, ticketID
}

func newPurchase(eventID, ticketID uuid.UUID, reference string, qty int) domain.TicketPurchase {
	return domain.TicketPurchase{
		ID:               uuid.New(),
		TicketID:         ticketID,
		EventID:          eventID,
		UserID:           "user-" + reference,
		Quantity:         qty,
		TotalCents:       int64(qty) * 1500,
		QRCode:           "EP-" + uuid.NewString(),
		Status:           domain.PurchaseActive,
		PaymentReference: reference,
		PaymentMethod:    "card",
	}
}

func soldCount(t *testing.T, s *Store, ticketID uuid.UUID) int {
	t.Helper()

	tk, err := s.Catalog().GetTicket(context.Background(), ticketID)
	require.NoError(t, err)
	return tk.SoldCount
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()

	var n int
	require.NoError(t, s.pool.QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func capacity(n int) *int { return &n }

func TestPurchaseRepo_RecordReservesSeats(t *testing.T) {
	s := newTestStore(t)
	eventID, ticketID := seedTicket(t, s, capacity(10))

	p, created, err := s.Purchases().Record(context.Background(), newPurchase(eventID, ticketID, "pi_1", 3))
	require.NoError(t, err)

	assert.True(t, created)
	assert.False(t, p.PurchasedAt.IsZero())
	assert.Equal(t, 3, soldCount(t, s, ticketID))

	got, err := s.Purchases().Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, eventID, got.EventID)
	assert.Equal(t, "pi_1", got.PaymentReference)
}

func TestPurchaseRepo_DuplicateReferenceIsNoop(t *testing.T) {
	s := newTestStore(t)
	eventID, ticketID := seedTicket(t, s, capacity(10))
	ctx := context.Background()

	first, created, err := s.Purchases().Record(ctx, newPurchase(eventID, ticketID, "pi_dup", 2))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.Purchases().Record(ctx, newPurchase(eventID, ticketID, "pi_dup", 2))
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.QRCode, second.QRCode)
	assert.Equal(t, 2, soldCount(t, s, ticketID))
	assert.Equal(t, 1, countRows(t, s, "ticket_purchases"))
}

func TestPurchaseRepo_TicketOfAnotherEvent(t *testing.T) {
	s := newTestStore(t)
	_, ticketID := seedTicket(t, s, nil)
	otherEvent, _ := seedTicket(t, s, nil)

	_, _, err := s.Purchases().Record(context.Background(), newPurchase(otherEvent, ticketID, "pi_x", 1))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.Equal(t, 0, soldCount(t, s, ticketID))
	assert.Equal(t, 0, countRows(t, s, "ticket_purchases"))
}

func TestPurchaseRepo_UnknownTicket(t *testing.T) {
	s := newTestStore(t)
	eventID, _ := seedTicket(t, s, nil)

	_, _, err := s.Purchases().Record(context.Background(), newPurchase(eventID, uuid.New(), "pi_x", 1))
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 0, countRows(t, s, "ticket_purchases"))
}

func TestPurchaseRepo_CapacityExceededRollsBack(t *testing.T) {
	s := newTestStore(t)
	eventID, ticketID := seedTicket(t, s, capacity(2))

	_, _, err := s.Purchases().Record(context.Background(), newPurchase(eventID, ticketID, "pi_big", 3))
	assert.ErrorIs(t, err, repository.ErrCapacityExceeded)

	assert.Equal(t, 0, soldCount(t, s, ticketID))
	assert.Equal(t, 0, countRows(t, s, "ticket_purchases"))
}

func TestPurchaseRepo_ConcurrentBuyersNeverOversell(t *testing.T) {
	s := newTestStore(t)
	eventID, ticketID := seedTicket(t, s, capacity(3))

	const buyers = 12
	errs := make([]error, buyers)

	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = s.Purchases().Record(context.Background(), newPurchase(eventID, ticketID, uuid.NewString(), 1))
		}()
	}
	wg.Wait()

	var sold, exceeded int
	for _, err := range errs {
		switch {
		case err == nil:
			sold++
		case errors.Is(err, repository.ErrCapacityExceeded):
			exceeded++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 3, sold)
	assert.Equal(t, buyers-3, exceeded)
	assert.Equal(t, 3, soldCount(t, s, ticketID))
	assert.Equal(t, 3, countRows(t, s, "ticket_purchases"))
}

func TestPurchaseRepo_CodeCollisionIsConflict(t *testing.T) {
	s := newTestStore(t)
	eventID, ticketID := seedTicket(t, s, nil)
	ctx := context.Background()

	first := newPurchase(eventID, ticketID, "pi_a", 1)
	_, _, err := s.Purchases().Record(ctx, first)
	require.NoError(t, err)

	second := newPurchase(eventID, ticketID, "pi_b", 1)
	second.QRCode = first.QRCode
	_, _, err = s.Purchases().Record(ctx, second)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 1, soldCount(t, s, ticketID))
}

func TestAttendeeRepo_OneRowPerEventAndUser(t *testing.T) {
	s := newTestStore(t)
	eventID, general := seedTicket(t, s, nil)
	vip := uuid.New()
	ctx := context.Background()

	for _, ticketID := range []uuid.UUID{general, vip} {
		require.NoError(t, s.Attendees().Upsert(ctx, domain.EventAttendee{
			EventID:  eventID,
			UserID:   "user-1",
			Type:     domain.AttendanceTicket,
			Status:   domain.AttendeeApproved,
			TicketID: &ticketID,
		}))
	}

	assert.Equal(t, 1, countRows(t, s, "event_attendees"))

	var got uuid.UUID
	require.NoError(t, s.pool.QueryRow(ctx,
		`SELECT ticket_id FROM event_attendees WHERE event_id = $1 AND user_id = $2`,
		eventID, "user-1",
	).Scan(&got))
	assert.Equal(t, vip, got)

	// ticket attendance is not withdrawn by an RSVP change
	require.NoError(t, s.Attendees().DeleteRSVP(ctx, eventID, "user-1"))
	assert.Equal(t, 1, countRows(t, s, "event_attendees"))
}

func TestAttendeeRepo_DeleteRSVP(t *testing.T) {
	s := newTestStore(t)
	eventID, _ := seedTicket(t, s, nil)
	ctx := context.Background()

	require.NoError(t, s.Attendees().Upsert(ctx, domain.EventAttendee{
		EventID: eventID,
		UserID:  "user-2",
		Type:    domain.AttendanceRSVP,
		Status:  domain.AttendeePending,
	}))
	require.NoError(t, s.Attendees().DeleteRSVP(ctx, eventID, "user-2"))

	assert.Equal(t, 0, countRows(t, s, "event_attendees"))
}
