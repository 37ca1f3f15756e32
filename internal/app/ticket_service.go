package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/clock"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/signer"
)

type TicketRepository interface {
	CreateBatch(ctx context.Context, tickets []domain.Ticket) error
	GetByID(ctx context.Context, id string) (domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (domain.Ticket, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Ticket, error)
	AnyValidated(ctx context.Context, bookingID string) (bool, error)
	Redeem(ctx context.Context, number, validatorID string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id, reason string, at time.Time) (bool, error)
}

// TicketService issues signed tickets from confirmed bookings and validates
// them at the point of use. Redemption is exactly-once: the repository's
// guarded transition decides the winner under concurrent scans.
type TicketService struct {
	repo   TicketRepository
	signer *signer.Signer
	clock  clock.Clock
}

func NewTicketService(repo TicketRepository, sgn *signer.Signer, clk clock.Clock) *TicketService {
	return &TicketService{repo: repo, signer: sgn, clock: clk}
}

// ticketNumber is deterministic per (booking, seq), so every issuer of the
// same booking produces the same numbers and the unique index turns the
// loser's inserts into no-ops.
func ticketNumber(b domain.Booking, seq int) string {
	base := strings.TrimPrefix(b.Reference, "HB-")
	if base == "" {
		base = b.ID
	}
	return fmt.Sprintf("TK-%s-%02d", base, seq)
}

// Issue fans a confirmed booking out into one ticket per guest unit. Each
// payload is signed so the scanner can verify it offline. Issuing is
// idempotent per booking: concurrent or repeated confirmation signals
// converge on the single persisted set.
func (s *TicketService) Issue(ctx context.Context, b domain.Booking) ([]domain.Ticket, error) {
	now := s.clock.Now()
	validFrom := b.Slot.StartAt()
	validUntil := b.Slot.EndOfDay()

	tickets := make([]domain.Ticket, 0, b.Quantity)
	for i := 0; i < b.Quantity; i++ {
		number := ticketNumber(b, i+1)
		payload, err := s.signer.Sign(signer.Payload{
			TicketNumber: number,
			ResourceID:   b.Slot.ResourceID,
			ValidFrom:    validFrom,
			ValidUntil:   validUntil,
			IssuedAt:     now,
		})
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, domain.Ticket{
			ID:           newID(),
			TicketNumber: number,
			BookingID:    b.ID,
			ResourceID:   b.Slot.ResourceID,
			ValidFrom:    validFrom,
			ValidUntil:   validUntil,
			Payload:      payload,
			Status:       domain.TicketStatusActive,
			IssuedAt:     now,
		})
	}

	if err := s.repo.CreateBatch(ctx, tickets); err != nil {
		return nil, err
	}

	// A concurrent issuer may have won some or all of the inserts; the
	// stored rows are the canonical set either way.
	return s.repo.ListByBooking(ctx, b.ID)
}

// Validate decodes and verifies a scanned payload, checks it against the
// stored ticket, and redeems it. A second concurrent scan of the same
// ticket loses the guarded transition and reports ErrAlreadyRedeemed.
func (s *TicketService) Validate(ctx context.Context, payload, expectedResourceID, validatorID string) (domain.Ticket, error) {
	p, err := s.signer.Verify(payload)
	if err != nil {
		return domain.Ticket{}, err
	}

	t, err := s.repo.GetByNumber(ctx, p.TicketNumber)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.ResourceID != expectedResourceID {
		return domain.Ticket{}, domain.ErrWrongResource
	}

	now := s.clock.Now()
	if now.Before(t.ValidFrom) {
		return domain.Ticket{}, domain.ErrTicketNotYetValid
	}
	if now.After(t.ValidUntil) {
		return domain.Ticket{}, domain.ErrTicketExpired
	}

	redeemed, err := s.repo.Redeem(ctx, p.TicketNumber, validatorID, now)
	if err != nil {
		return domain.Ticket{}, err
	}
	if !redeemed {
		current, err := s.repo.GetByNumber(ctx, p.TicketNumber)
		if err != nil {
			return domain.Ticket{}, err
		}
		if current.Status == domain.TicketStatusValidated {
			return domain.Ticket{}, domain.ErrAlreadyRedeemed
		}
		return domain.Ticket{}, domain.ErrTicketNotActive
	}

	t.Status = domain.TicketStatusValidated
	t.ValidatedAt = &now
	t.ValidatedBy = validatorID
	return t, nil
}

// CancelTickets cancels the given tickets. Every ticket must individually be
// active; hitting a redeemed one is a hard error because redemption is the
// irreversible real-world event.
func (s *TicketService) CancelTickets(ctx context.Context, ticketIDs []string, reason string) error {
	now := s.clock.Now()
	for _, id := range ticketIDs {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketStatusValidated {
			return domain.ErrCannotCancelRedeemed
		}
		if t.Status != domain.TicketStatusActive {
			return domain.ErrTicketNotActive
		}
		cancelled, err := s.repo.Cancel(ctx, id, reason, now)
		if err != nil {
			return err
		}
		if !cancelled {
			current, err := s.repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if current.Status == domain.TicketStatusValidated {
				return domain.ErrCannotCancelRedeemed
			}
			return domain.ErrTicketNotActive
		}
	}
	return nil
}

// CancelForBooking cancels all still-active tickets of a booking; used by
// the saga's cancellation path after it verified nothing was redeemed.
func (s *TicketService) CancelForBooking(ctx context.Context, bookingID, reason string) error {
	tickets, err := s.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, t := range tickets {
		if t.Status == domain.TicketStatusValidated {
			return domain.ErrCannotCancelRedeemed
		}
		if t.Status != domain.TicketStatusActive {
			continue
		}
		cancelled, err := s.repo.Cancel(ctx, t.ID, reason, now)
		if err != nil {
			return err
		}
		if !cancelled {
			current, err := s.repo.GetByID(ctx, t.ID)
			if err != nil {
				return err
			}
			if current.Status == domain.TicketStatusValidated {
				return domain.ErrCannotCancelRedeemed
			}
		}
	}
	return nil
}

func (s *TicketService) ListByBooking(ctx context.Context, bookingID string) ([]domain.Ticket, error) {
	return s.repo.ListByBooking(ctx, bookingID)
}

func (s *TicketService) AnyValidated(ctx context.Context, bookingID string) (bool, error) {
	return s.repo.AnyValidated(ctx, bookingID)
}
