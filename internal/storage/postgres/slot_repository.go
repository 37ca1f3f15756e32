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

const slotColumns = `id, resource_id, slot_date, timeslot, total_capacity, booked_capacity,
reserved_capacity, base_price, final_price, currency, min_booking, max_booking,
cutoff_hours, is_active, created_at, updated_at`

// SlotRepository is the durable side of the capacity ledger. All counter
// mutations are single conditional UPDATE statements so the non-oversell
// invariant holds under concurrent callers without application-level locks.
type SlotRepository struct {
	pool *pgxpool.Pool
}

func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *SlotRepository) GetByKey(ctx context.Context, key domain.SlotKey) (domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE resource_id = $1 AND slot_date = $2 AND timeslot = $3`
	return r.scanSlot(r.queryRow(ctx, query, key.ResourceID, key.Date, key.Timeslot))
}

func (r *SlotRepository) GetRange(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Slot, error) {
	query := `SELECT ` + slotColumns + `
FROM slots
WHERE resource_id = $1 AND slot_date >= $2 AND slot_date <= $3
ORDER BY slot_date, timeslot`

	rows, err := r.query(ctx, query, resourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	defer rows.Close()

	var slots []domain.Slot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// Reserve increments reserved_capacity only when enough derived availability
// remains; the check and the increment are one statement. Zero rows affected
// is classified by a follow-up read so callers can tell "missing/inactive"
// from "full".
func (r *SlotRepository) Reserve(ctx context.Context, key domain.SlotKey, quantity int) error {
	const stmt = `
UPDATE slots
SET reserved_capacity = reserved_capacity + $4, updated_at = NOW()
WHERE resource_id = $1 AND slot_date = $2 AND timeslot = $3
  AND is_active
  AND total_capacity - booked_capacity - reserved_capacity >= $4`

	tag, err := r.exec(ctx, stmt, key.ResourceID, key.Date, key.Timeslot, quantity)
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	slot, err := r.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if !slot.IsActive {
		// Deactivated slots are not reservable; treated the same as missing.
		return domain.ErrSlotNotFound
	}
	return domain.ErrInsufficientCapacity
}

// ConfirmCapacity moves quantity from reserved to booked. The guard on
// reserved_capacity keeps a duplicate signal from double-booking; the saga
// additionally serializes duplicates through the booking status transition.
func (r *SlotRepository) ConfirmCapacity(ctx context.Context, key domain.SlotKey, quantity int) error {
	const stmt = `
UPDATE slots
SET reserved_capacity = reserved_capacity - $4,
    booked_capacity = booked_capacity + $4,
    updated_at = NOW()
WHERE resource_id = $1 AND slot_date = $2 AND timeslot = $3
  AND reserved_capacity >= $4`

	tag, err := r.exec(ctx, stmt, key.ResourceID, key.Date, key.Timeslot, quantity)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrLedgerConflict
		}
		return fmt.Errorf("confirm capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByKey(ctx, key); err != nil {
			return err
		}
		return domain.ErrLedgerConflict
	}
	return nil
}

// ReleaseCapacity returns reserved capacity to the pool, floored at zero so
// a double release after passive expiry stays a no-op.
func (r *SlotRepository) ReleaseCapacity(ctx context.Context, key domain.SlotKey, quantity int) error {
	const stmt = `
UPDATE slots
SET reserved_capacity = GREATEST(reserved_capacity - $4, 0), updated_at = NOW()
WHERE resource_id = $1 AND slot_date = $2 AND timeslot = $3`

	tag, err := r.exec(ctx, stmt, key.ResourceID, key.Date, key.Timeslot, quantity)
	if err != nil {
		return fmt.Errorf("release capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

// CancelCapacity returns booked capacity to the pool after a confirmed
// booking is cancelled, floored at zero.
func (r *SlotRepository) CancelCapacity(ctx context.Context, key domain.SlotKey, quantity int) error {
	const stmt = `
UPDATE slots
SET booked_capacity = GREATEST(booked_capacity - $4, 0), updated_at = NOW()
WHERE resource_id = $1 AND slot_date = $2 AND timeslot = $3`

	tag, err := r.exec(ctx, stmt, key.ResourceID, key.Date, key.Timeslot, quantity)
	if err != nil {
		return fmt.Errorf("cancel capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSlotNotFound
	}
	return nil
}

func (r *SlotRepository) scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(
		&s.ID,
		&s.Key.ResourceID,
		&s.Key.Date,
		&s.Key.Timeslot,
		&s.TotalCapacity,
		&s.BookedCapacity,
		&s.ReservedCapacity,
		&s.BasePrice,
		&s.FinalPrice,
		&s.Currency,
		&s.MinBooking,
		&s.MaxBooking,
		&s.CutoffHours,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Slot{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Slot{}, domain.ErrSlotNotFound
		}
		return domain.Slot{}, fmt.Errorf("scan slot: %w", err)
	}
	return s, nil
}

func (r *SlotRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *SlotRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *SlotRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
