package app

import (
	"context"
	"log"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/clock"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

type SlotRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetByKey(ctx context.Context, key domain.SlotKey) (domain.Slot, error)
	GetRange(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Slot, error)
	Reserve(ctx context.Context, key domain.SlotKey, quantity int) error
	ConfirmCapacity(ctx context.Context, key domain.SlotKey, quantity int) error
	ReleaseCapacity(ctx context.Context, key domain.SlotKey, quantity int) error
	CancelCapacity(ctx context.Context, key domain.SlotKey, quantity int) error
}

type AvailabilityCache interface {
	Get(ctx context.Context, key string) (*domain.Availability, error)
	Set(ctx context.Context, key string, av domain.Availability) error
	Invalidate(ctx context.Context, key string) error
}

// LedgerService is the capacity ledger: the only component allowed to write
// slot counters. Reads go through an advisory cache; every mutation
// invalidates the cached entry rather than updating it.
type LedgerService struct {
	repo   SlotRepository
	cache  AvailabilityCache
	clock  clock.Clock
	logger *log.Logger
}

func NewLedgerService(repo SlotRepository, cache AvailabilityCache, clk clock.Clock, logger *log.Logger) *LedgerService {
	if logger == nil {
		logger = log.Default()
	}
	return &LedgerService{repo: repo, cache: cache, clock: clk, logger: logger}
}

func (s *LedgerService) CheckAvailability(ctx context.Context, key domain.SlotKey) (domain.Availability, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key.String())
		if err != nil {
			s.logger.Printf("WARN: availability cache read slot=%s: %v", key, err)
		} else if cached != nil {
			cached.Key = key
			return *cached, nil
		}
	}

	slot, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return domain.Availability{}, err
	}
	av, err := s.availabilityFrom(slot)
	if err != nil {
		return domain.Availability{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key.String(), av); err != nil {
			s.logger.Printf("WARN: availability cache write slot=%s: %v", key, err)
		}
	}
	return av, nil
}

func (s *LedgerService) Reserve(ctx context.Context, key domain.SlotKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.repo.Reserve(ctx, key, quantity); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *LedgerService) Confirm(ctx context.Context, key domain.SlotKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.repo.ConfirmCapacity(ctx, key, quantity); err != nil {
		if err == domain.ErrLedgerConflict {
			s.logger.Printf("ERROR: ledger conflict confirming slot=%s quantity=%d, operator attention required", key, quantity)
		}
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *LedgerService) Release(ctx context.Context, key domain.SlotKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.repo.ReleaseCapacity(ctx, key, quantity); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *LedgerService) Cancel(ctx context.Context, key domain.SlotKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.repo.CancelCapacity(ctx, key, quantity); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

// GetRange is the read-only calendar view; it bypasses the cache.
func (s *LedgerService) GetRange(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Slot, error) {
	return s.repo.GetRange(ctx, resourceID, from, to)
}

func (s *LedgerService) availabilityFrom(slot domain.Slot) (domain.Availability, error) {
	available := slot.AvailableCapacity()
	if available < 0 || slot.ReservedCapacity < 0 || slot.BookedCapacity < 0 {
		// Never clamp: a negative derived availability means the non-oversell
		// invariant broke and must be reconciled by an operator.
		s.logger.Printf("ERROR: capacity invariant violated slot=%s total=%d booked=%d reserved=%d",
			slot.Key, slot.TotalCapacity, slot.BookedCapacity, slot.ReservedCapacity)
		return domain.Availability{}, domain.ErrLedgerConflict
	}

	return domain.Availability{
		SlotID:            slot.ID,
		Key:               slot.Key,
		Available:         slot.IsActive && available > 0,
		AvailableCapacity: available,
		TotalCapacity:     slot.TotalCapacity,
		BasePrice:         slot.BasePrice,
		FinalPrice:        slot.FinalPrice,
		Currency:          slot.Currency,
		MinBooking:        slot.MinBooking,
		MaxBooking:        slot.MaxBooking,
		CutoffHours:       slot.CutoffHours,
		IsActive:          slot.IsActive,
		CheckedAt:         s.clock.Now(),
	}, nil
}

func (s *LedgerService) invalidate(ctx context.Context, key domain.SlotKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key.String()); err != nil {
		s.logger.Printf("WARN: availability cache invalidate slot=%s: %v", key, err)
	}
}
