package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

const ticketColumns = `id, ticket_number, booking_id, resource_id, valid_from, valid_until,
payload, status, validated_at, validated_by, cancelled_at, cancel_reason, issued_at`

type TicketRepository struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// CreateBatch inserts the tickets, skipping any number that already exists.
// Ticket numbers are deterministic per booking, so duplicate issuers insert
// the same rows and the unique index keeps exactly one set.
func (r *TicketRepository) CreateBatch(ctx context.Context, tickets []domain.Ticket) error {
	const stmt = `
INSERT INTO tickets (id, ticket_number, booking_id, resource_id, valid_from, valid_until,
	payload, status, issued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (ticket_number) DO NOTHING`

	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		for _, t := range tickets {
			_, err := r.exec(txCtx, stmt,
				t.ID, t.TicketNumber, t.BookingID, t.ResourceID,
				t.ValidFrom, t.ValidUntil, t.Payload, t.Status, t.IssuedAt,
			)
			if err != nil {
				return fmt.Errorf("create ticket %s: %w", t.TicketNumber, err)
			}
		}
		return nil
	})
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	return r.scanTicket(r.queryRow(ctx, query, id))
}

func (r *TicketRepository) GetByNumber(ctx context.Context, number string) (domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ticket_number = $1`
	return r.scanTicket(r.queryRow(ctx, query, number))
}

func (r *TicketRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE booking_id = $1 ORDER BY ticket_number`

	rows, err := r.query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := r.scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *TicketRepository) AnyValidated(ctx context.Context, bookingID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM tickets WHERE booking_id = $1 AND status = 'validated')`

	var exists bool
	if err := r.queryRow(ctx, query, bookingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("any validated: %w", err)
	}
	return exists, nil
}

// Redeem performs the exactly-once active→validated transition as a single
// guarded UPDATE. False means the ticket was not active; the caller reads
// the current status to report why.
func (r *TicketRepository) Redeem(ctx context.Context, number, validatorID string, at time.Time) (bool, error) {
	const stmt = `
UPDATE tickets
SET status = 'validated', validated_at = $2, validated_by = $3
WHERE ticket_number = $1 AND status = 'active'`

	tag, err := r.exec(ctx, stmt, number, at, validatorID)
	if err != nil {
		return false, fmt.Errorf("redeem ticket: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel transitions a single ticket active→cancelled. False means the
// ticket was not active (already validated, cancelled, or expired).
func (r *TicketRepository) Cancel(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	const stmt = `
UPDATE tickets
SET status = 'cancelled', cancelled_at = $2, cancel_reason = $3
WHERE id = $1 AND status = 'active'`

	tag, err := r.exec(ctx, stmt, id, at, reason)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("cancel ticket: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TicketRepository) scanTicket(row pgx.Row) (domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(
		&t.ID, &t.TicketNumber, &t.BookingID, &t.ResourceID,
		&t.ValidFrom, &t.ValidUntil, &t.Payload, &t.Status,
		&t.ValidatedAt, &t.ValidatedBy, &t.CancelledAt, &t.CancelReason,
		&t.IssuedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Ticket{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("scan ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *TicketRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *TicketRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
