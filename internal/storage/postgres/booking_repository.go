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

const bookingColumns = `id, reference, slot_id, resource_id, slot_date, timeslot, quantity, status,
guest_name, guest_email, guest_phone,
base_amount, tax_amount, fee_amount, discount_amount, total_amount, commission_amount, currency,
payment_id, hold_expires_at, confirmed_at, delivered_at, cancelled_at, cancelled_by, cancel_reason,
created_at, updated_at`

type BookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *BookingRepository) Create(ctx context.Context, b domain.Booking) error {
	const stmt = `
INSERT INTO bookings (id, reference, slot_id, resource_id, slot_date, timeslot, quantity, status,
	guest_name, guest_email, guest_phone,
	base_amount, tax_amount, fee_amount, discount_amount, total_amount, commission_amount, currency,
	payment_id, hold_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)`

	_, err := r.exec(ctx, stmt,
		b.ID, b.Reference, b.SlotID, b.Slot.ResourceID, b.Slot.Date, b.Slot.Timeslot,
		b.Quantity, b.Status,
		b.Guest.Name, b.Guest.Email, b.Guest.Phone,
		b.Pricing.BaseAmount, b.Pricing.TaxAmount, b.Pricing.FeeAmount,
		b.Pricing.DiscountAmount, b.Pricing.TotalAmount, b.Pricing.CommissionAmount,
		b.Pricing.Currency,
		b.PaymentID, b.HoldExpiresAt, b.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("create booking: reference collision: %w", err)
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// Delete removes a booking that never got a reservation. Only valid as the
// compensating action inside create, before anything external happened.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	_, err := r.exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.scanBooking(r.queryRow(ctx, query, id))
}

func (r *BookingRepository) GetByReference(ctx context.Context, reference string) (domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = $1`
	return r.scanBooking(r.queryRow(ctx, query, reference))
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, id string) (domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return r.scanBooking(r.queryRow(ctx, query, id))
}

// TransitionStatus flips the status only when the booking is still in the
// expected state. The returned bool tells the caller whether it won the
// race; losing is not an error.
func (r *BookingRepository) TransitionStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error) {
	const stmt = `UPDATE bookings SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	tag, err := r.exec(ctx, stmt, id, from, to, at)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("transition booking status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *BookingRepository) SetConfirmed(ctx context.Context, id, paymentID string, at time.Time) error {
	const stmt = `UPDATE bookings SET payment_id = $2, confirmed_at = $3, updated_at = $3 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, paymentID, at)
	if err != nil {
		return fmt.Errorf("set confirmed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *BookingRepository) SetPaymentID(ctx context.Context, id, paymentID string) error {
	const stmt = `UPDATE bookings SET payment_id = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, paymentID)
	if err != nil {
		return fmt.Errorf("set payment id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *BookingRepository) SetCancellation(ctx context.Context, id, actorID, reason string, at time.Time) error {
	const stmt = `
UPDATE bookings SET cancelled_at = $4, cancelled_by = $2, cancel_reason = $3, updated_at = $4
WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, actorID, reason, at)
	if err != nil {
		return fmt.Errorf("set cancellation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *BookingRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const stmt = `UPDATE bookings SET delivered_at = $2, updated_at = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, id, at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// ListExpiredPending returns pending bookings whose hold window has passed,
// for the reconciliation sweep.
func (r *BookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + `
FROM bookings
WHERE status = 'pending' AND hold_expires_at <= $1
ORDER BY hold_expires_at
LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// ListUndelivered returns confirmed bookings whose tickets have not been
// handed to the delivery collaborator yet.
func (r *BookingRepository) ListUndelivered(ctx context.Context, limit int) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + `
FROM bookings
WHERE status = 'confirmed' AND delivered_at IS NULL
ORDER BY confirmed_at
LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *BookingRepository) scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.Reference, &b.SlotID,
		&b.Slot.ResourceID, &b.Slot.Date, &b.Slot.Timeslot,
		&b.Quantity, &b.Status,
		&b.Guest.Name, &b.Guest.Email, &b.Guest.Phone,
		&b.Pricing.BaseAmount, &b.Pricing.TaxAmount, &b.Pricing.FeeAmount,
		&b.Pricing.DiscountAmount, &b.Pricing.TotalAmount, &b.Pricing.CommissionAmount,
		&b.Pricing.Currency,
		&b.PaymentID, &b.HoldExpiresAt,
		&b.ConfirmedAt, &b.DeliveredAt, &b.CancelledAt, &b.CancelledBy, &b.CancelReason,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Booking{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Booking{}, domain.ErrBookingNotFound
		}
		return domain.Booking{}, fmt.Errorf("scan booking: %w", err)
	}
	return b, nil
}

func (r *BookingRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *BookingRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *BookingRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
