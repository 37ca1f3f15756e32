package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/clock"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

type BookingRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, b domain.Booking) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (domain.Booking, error)
	GetForUpdate(ctx context.Context, id string) (domain.Booking, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error)
	SetConfirmed(ctx context.Context, id, paymentID string, at time.Time) error
	SetPaymentID(ctx context.Context, id, paymentID string) error
	SetCancellation(ctx context.Context, id, actorID, reason string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	ListUndelivered(ctx context.Context, limit int) ([]domain.Booking, error)
}

type HoldRegistry interface {
	Place(ctx context.Context, hold domain.Hold, ttl time.Duration) error
	Get(ctx context.Context, bookingID string) (*domain.Hold, error)
	Remove(ctx context.Context, bookingID string) error
}

// Ledger is the slice of the capacity ledger the saga drives.
type Ledger interface {
	CheckAvailability(ctx context.Context, key domain.SlotKey) (domain.Availability, error)
	Reserve(ctx context.Context, key domain.SlotKey, quantity int) error
	Confirm(ctx context.Context, key domain.SlotKey, quantity int) error
	Release(ctx context.Context, key domain.SlotKey, quantity int) error
	Cancel(ctx context.Context, key domain.SlotKey, quantity int) error
}

// PaymentProvider is the external payment collaborator.
type PaymentProvider interface {
	CreateSession(ctx context.Context, amount float64, currency, reference string) (domain.PaymentSession, error)
	GetStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error)
	Refund(ctx context.Context, paymentID string, amount float64, reason string) (string, error)
}

// TicketIssuer is the slice of the ticket service the saga drives. Issue is
// idempotent per booking: concurrent and repeated calls converge on the one
// persisted ticket set, never a second fan-out.
type TicketIssuer interface {
	Issue(ctx context.Context, b domain.Booking) ([]domain.Ticket, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Ticket, error)
	AnyValidated(ctx context.Context, bookingID string) (bool, error)
	CancelForBooking(ctx context.Context, bookingID, reason string) error
}

// Deliverer hands issued tickets to the notification collaborator.
// Fire-and-forget: its failure never rolls back a confirmed booking.
type Deliverer interface {
	Deliver(ctx context.Context, b domain.Booking, tickets []domain.Ticket) error
}

const (
	defaultHoldTTL        = 15 * time.Minute
	defaultTaxRate        = 0.21
	defaultBookingFee     = 1.50
	defaultCommissionRate = 0.10

	expireSweepLimit   = 100
	deliverySweepLimit = 50
)

// BookingService orchestrates the booking saga: check → hold → pay →
// confirm → issue → deliver, with compensating actions on step failure.
// It owns the Booking record exclusively.
type BookingService struct {
	bookings  BookingRepository
	ledger    Ledger
	holds     HoldRegistry
	payments  PaymentProvider
	tickets   TicketIssuer
	deliverer Deliverer
	clock     clock.Clock
	logger    *log.Logger

	holdTTL        time.Duration
	taxRate        float64
	bookingFee     float64
	commissionRate float64
}

type BookingServiceOption func(*BookingService)

// WithHoldTTL overrides the default 15-minute hold window.
func WithHoldTTL(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithPricing overrides the tax rate, fixed booking fee, and platform
// commission rate used when composing booking totals.
func WithPricing(taxRate, bookingFee, commissionRate float64) BookingServiceOption {
	return func(s *BookingService) {
		s.taxRate = taxRate
		s.bookingFee = bookingFee
		s.commissionRate = commissionRate
	}
}

func NewBookingService(
	bookings BookingRepository,
	ledger Ledger,
	holds HoldRegistry,
	payments PaymentProvider,
	tickets TicketIssuer,
	deliverer Deliverer,
	clk clock.Clock,
	logger *log.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	if logger == nil {
		logger = log.Default()
	}
	svc := &BookingService{
		bookings:       bookings,
		ledger:         ledger,
		holds:          holds,
		payments:       payments,
		tickets:        tickets,
		deliverer:      deliverer,
		clock:          clk,
		logger:         logger,
		holdTTL:        defaultHoldTTL,
		taxRate:        defaultTaxRate,
		bookingFee:     defaultBookingFee,
		commissionRate: defaultCommissionRate,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CreateBookingInput struct {
	Slot           domain.SlotKey
	Quantity       int
	Guest          domain.Guest
	DiscountAmount float64
}

type CreateBookingResult struct {
	Booking        domain.Booking
	PaymentSession *domain.PaymentSession
}

// Create runs the front half of the saga. If the reservation fails, the
// just-created booking is deleted (nothing external has happened yet). If
// the payment collaborator is unreachable the booking stays pending and the
// caller retries the payment step later.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (CreateBookingResult, error) {
	if in.Quantity <= 0 {
		return CreateBookingResult{}, domain.ErrInvalidQuantity
	}
	if in.Guest.Email == "" {
		return CreateBookingResult{}, domain.ErrGuestContactRequired
	}

	av, err := s.ledger.CheckAvailability(ctx, in.Slot)
	if err != nil {
		return CreateBookingResult{}, err
	}
	if !av.IsActive {
		return CreateBookingResult{}, domain.ErrSlotNotFound
	}
	if in.Quantity < av.MinBooking || (av.MaxBooking > 0 && in.Quantity > av.MaxBooking) {
		return CreateBookingResult{}, domain.ErrQuantityOutOfRange
	}

	now := s.clock.Now()
	if cutoffPassed(in.Slot, av.CutoffHours, now) {
		return CreateBookingResult{}, domain.ErrCutoffPassed
	}
	if !av.Available {
		return CreateBookingResult{}, domain.ErrNotAvailable
	}
	if in.Quantity > av.AvailableCapacity {
		return CreateBookingResult{}, domain.ErrInsufficientCapacity
	}

	pricing := ComputePricing(av.FinalPrice, in.Quantity, s.taxRate, s.bookingFee, in.DiscountAmount, s.commissionRate, av.Currency)

	booking := domain.Booking{
		ID:            newID(),
		Reference:     newReference("HB"),
		SlotID:        av.SlotID,
		Slot:          in.Slot,
		Quantity:      in.Quantity,
		Status:        domain.BookingStatusPending,
		Guest:         in.Guest,
		Pricing:       pricing,
		HoldExpiresAt: now.Add(s.holdTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		return CreateBookingResult{}, err
	}

	if err := s.ledger.Reserve(ctx, in.Slot, in.Quantity); err != nil {
		if delErr := s.bookings.Delete(ctx, booking.ID); delErr != nil {
			return CreateBookingResult{}, &domain.CompensationError{Op: "delete booking", Cause: err, Compensation: delErr}
		}
		return CreateBookingResult{}, err
	}

	hold := domain.Hold{
		BookingID: booking.ID,
		Slot:      in.Slot,
		Quantity:  in.Quantity,
		ExpiresAt: booking.HoldExpiresAt,
	}
	if err := s.holds.Place(ctx, hold, s.holdTTL); err != nil {
		// The reservation stands and the reconciler expires it from
		// hold_expires_at, so a registry outage is survivable.
		s.logger.Printf("WARN: hold registry place booking=%s: %v", booking.Reference, err)
	}

	result := CreateBookingResult{Booking: booking}
	if s.payments == nil {
		s.logger.Printf("WARN: no payment provider configured, booking=%s stays pending", booking.Reference)
		return result, nil
	}

	session, err := s.payments.CreateSession(ctx, pricing.TotalAmount, pricing.Currency, booking.Reference)
	if err != nil {
		s.logger.Printf("WARN: payment session booking=%s: %v (booking stays pending, payment can be retried)", booking.Reference, err)
		return result, nil
	}
	if err := s.bookings.SetPaymentID(ctx, booking.ID, session.PaymentID); err != nil {
		s.logger.Printf("WARN: record payment id booking=%s: %v", booking.Reference, err)
	}
	result.Booking.PaymentID = session.PaymentID
	result.PaymentSession = &session
	return result, nil
}

type ConfirmBookingInput struct {
	BookingID        string
	PaymentReference string
}

type ConfirmBookingResult struct {
	Booking domain.Booking
	Tickets []domain.Ticket
}

// Confirm verifies payment and runs the back half of the saga. The
// pending→confirmed transition is SQL-guarded, so duplicate confirmation
// signals and the expiry sweep serialize on the booking row. Once the
// payment is verified and the transition won, nothing downstream may roll
// the booking back: ticket issuance and delivery failures leave it
// confirmed and retryable.
func (s *BookingService) Confirm(ctx context.Context, in ConfirmBookingInput) (ConfirmBookingResult, error) {
	b, err := s.bookings.GetByID(ctx, in.BookingID)
	if err != nil {
		return ConfirmBookingResult{}, err
	}

	switch b.Status {
	case domain.BookingStatusConfirmed:
		// Duplicate signal: finish any pending issuance/delivery instead.
		return s.finishConfirmed(ctx, b)
	case domain.BookingStatusExpired:
		return ConfirmBookingResult{}, domain.ErrHoldExpired
	case domain.BookingStatusCancelled:
		return ConfirmBookingResult{}, domain.ErrBookingNotPending
	}

	paymentID := in.PaymentReference
	if paymentID == "" {
		paymentID = b.PaymentID
	}
	if paymentID == "" {
		return ConfirmBookingResult{}, domain.ErrPaymentNotCompleted
	}
	if s.payments == nil {
		return ConfirmBookingResult{}, domain.ErrCollaboratorUnavailable
	}
	status, err := s.payments.GetStatus(ctx, paymentID)
	if err != nil {
		return ConfirmBookingResult{}, fmt.Errorf("%w: payment status: %v", domain.ErrCollaboratorUnavailable, err)
	}
	if !status.Paid() {
		return ConfirmBookingResult{}, domain.ErrPaymentNotCompleted
	}

	now := s.clock.Now()
	var won bool
	err = s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		var txErr error
		won, txErr = s.bookings.TransitionStatus(txCtx, b.ID, domain.BookingStatusPending, domain.BookingStatusConfirmed, now)
		if txErr != nil {
			return txErr
		}
		if !won {
			return nil
		}
		if txErr := s.bookings.SetConfirmed(txCtx, b.ID, paymentID, now); txErr != nil {
			return txErr
		}
		return s.ledger.Confirm(txCtx, b.Slot, b.Quantity)
	})
	if err != nil {
		return ConfirmBookingResult{}, err
	}

	if !won {
		// Lost the race: a concurrent confirm or the expiry sweep got there
		// first. Booking.Status says which.
		current, err := s.bookings.GetByID(ctx, b.ID)
		if err != nil {
			return ConfirmBookingResult{}, err
		}
		switch current.Status {
		case domain.BookingStatusConfirmed:
			return s.finishConfirmed(ctx, current)
		case domain.BookingStatusExpired:
			// The sweep won after the charge was verified captured; the
			// guest cannot attend, so the money goes back.
			if refundErr := s.refundCaptured(ctx, current, paymentID, "hold expired before confirmation"); refundErr != nil {
				return ConfirmBookingResult{}, &domain.CompensationError{Op: "refund", Cause: domain.ErrHoldExpired, Compensation: refundErr}
			}
			return ConfirmBookingResult{}, domain.ErrHoldExpired
		default:
			return ConfirmBookingResult{}, domain.ErrBookingNotPending
		}
	}

	if err := s.holds.Remove(ctx, b.ID); err != nil {
		s.logger.Printf("WARN: hold registry remove booking=%s: %v", b.Reference, err)
	}

	b.Status = domain.BookingStatusConfirmed
	b.PaymentID = paymentID
	b.ConfirmedAt = &now
	return s.finishConfirmed(ctx, b)
}

// finishConfirmed issues tickets if none exist yet and hands them to the
// delivery collaborator. Safe to re-drive, even concurrently: issuance is
// idempotent per booking and delivery is conditional.
func (s *BookingService) finishConfirmed(ctx context.Context, b domain.Booking) (ConfirmBookingResult, error) {
	tickets, err := s.tickets.ListByBooking(ctx, b.ID)
	if err != nil {
		return ConfirmBookingResult{Booking: b}, fmt.Errorf("list tickets: %w", err)
	}
	if len(tickets) == 0 {
		tickets, err = s.tickets.Issue(ctx, b)
		if err != nil {
			// The paid booking must not be lost: it stays confirmed with
			// issuance retryable via a repeat Confirm or the reconciler.
			return ConfirmBookingResult{Booking: b}, fmt.Errorf("issue tickets: %w", err)
		}
	}

	if b.DeliveredAt == nil {
		s.deliver(ctx, &b, tickets)
	}
	return ConfirmBookingResult{Booking: b, Tickets: tickets}, nil
}

func (s *BookingService) deliver(ctx context.Context, b *domain.Booking, tickets []domain.Ticket) {
	if s.deliverer == nil {
		return
	}
	if err := s.deliverer.Deliver(ctx, *b, tickets); err != nil {
		s.logger.Printf("WARN: ticket delivery booking=%s: %v (reconciler will retry)", b.Reference, err)
		return
	}
	now := s.clock.Now()
	if err := s.bookings.MarkDelivered(ctx, b.ID, now); err != nil {
		s.logger.Printf("WARN: mark delivered booking=%s: %v", b.Reference, err)
		return
	}
	b.DeliveredAt = &now
}

type CancelBookingInput struct {
	BookingID string
	ActorID   string
	Reason    string
}

// Cancel rejects past-cutoff and post-redemption cancellations, then
// transitions the booking and returns its capacity: a pending booking
// releases its reservation, a confirmed one returns booked capacity. Any
// captured charge is refunded whether or not the confirmation signal ever
// arrived. A refund failure is surfaced distinctly so operators can
// reconcile; it is not retried automatically.
func (s *BookingService) Cancel(ctx context.Context, in CancelBookingInput) (domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, in.BookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.Status == domain.BookingStatusCancelled || b.Status == domain.BookingStatusExpired {
		return domain.Booking{}, domain.ErrBookingNotCancelable
	}

	now := s.clock.Now()
	if av, err := s.ledger.CheckAvailability(ctx, b.Slot); err == nil {
		if cutoffPassed(b.Slot, av.CutoffHours, now) {
			return domain.Booking{}, domain.ErrCutoffPassed
		}
	}

	validated, err := s.tickets.AnyValidated(ctx, b.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	if validated {
		return domain.Booking{}, domain.ErrCannotCancelRedeemed
	}

	var wasPending bool
	err = s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		current, txErr := s.bookings.GetForUpdate(txCtx, b.ID)
		if txErr != nil {
			return txErr
		}
		switch current.Status {
		case domain.BookingStatusPending:
			won, txErr := s.bookings.TransitionStatus(txCtx, b.ID, domain.BookingStatusPending, domain.BookingStatusCancelled, now)
			if txErr != nil {
				return txErr
			}
			if !won {
				return domain.ErrBookingNotCancelable
			}
			wasPending = true
			if txErr := s.ledger.Release(txCtx, b.Slot, b.Quantity); txErr != nil {
				return txErr
			}
		case domain.BookingStatusConfirmed:
			won, txErr := s.bookings.TransitionStatus(txCtx, b.ID, domain.BookingStatusConfirmed, domain.BookingStatusCancelled, now)
			if txErr != nil {
				return txErr
			}
			if !won {
				return domain.ErrBookingNotCancelable
			}
			if txErr := s.ledger.Cancel(txCtx, b.Slot, b.Quantity); txErr != nil {
				return txErr
			}
		default:
			return domain.ErrBookingNotCancelable
		}
		return s.bookings.SetCancellation(txCtx, b.ID, in.ActorID, in.Reason, now)
	})
	if err != nil {
		return domain.Booking{}, err
	}

	if wasPending {
		if err := s.holds.Remove(ctx, b.ID); err != nil {
			s.logger.Printf("WARN: hold registry remove booking=%s: %v", b.Reference, err)
		}
	}

	if err := s.tickets.CancelForBooking(ctx, b.ID, in.Reason); err != nil {
		return b, &domain.CompensationError{Op: "cancel tickets", Compensation: err}
	}

	// A charge captured before the confirmation signal arrived is still the
	// guest's money; the booking's status does not gate the refund.
	if err := s.refundCaptured(ctx, b, b.PaymentID, in.Reason); err != nil {
		return b, &domain.CompensationError{Op: "refund", Compensation: err}
	}

	return s.bookings.GetByID(ctx, b.ID)
}

// refundCaptured returns the guest's money when the charge was captured but
// the booking will not be honored. A missing, pending, or already-refunded
// payment is a no-op.
func (s *BookingService) refundCaptured(ctx context.Context, b domain.Booking, paymentID, reason string) error {
	if paymentID == "" || s.payments == nil {
		return nil
	}
	status, err := s.payments.GetStatus(ctx, paymentID)
	if err != nil {
		return err
	}
	if status != domain.PaymentStatusCaptured {
		return nil
	}
	if _, err := s.payments.Refund(ctx, paymentID, b.Pricing.TotalAmount, reason); err != nil {
		s.logger.Printf("ERROR: refund booking=%s payment=%s: %v, operator follow-up required", b.Reference, paymentID, err)
		return err
	}
	return nil
}

func (s *BookingService) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	return s.bookings.GetByID(ctx, bookingID)
}

func (s *BookingService) GetByReference(ctx context.Context, reference string) (domain.Booking, error) {
	return s.bookings.GetByReference(ctx, reference)
}

// ExpireStale finalizes pending bookings whose hold window has passed: the
// in-storage TTL on the hold entry has already fired (or will), and this
// sweep reconciles the ledger and the booking status. The SQL-guarded
// transition makes the race against an explicit confirm safe in both
// directions. A charge captured before the window closed is refunded so an
// expired booking never keeps the guest's money.
func (s *BookingService) ExpireStale(ctx context.Context) (int, error) {
	now := s.clock.Now()
	stale, err := s.bookings.ListExpiredPending(ctx, now, expireSweepLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		var won bool
		err := s.bookings.WithTx(ctx, func(txCtx context.Context) error {
			var txErr error
			won, txErr = s.bookings.TransitionStatus(txCtx, b.ID, domain.BookingStatusPending, domain.BookingStatusExpired, now)
			if txErr != nil {
				return txErr
			}
			if !won {
				return nil
			}
			return s.ledger.Release(txCtx, b.Slot, b.Quantity)
		})
		if err != nil {
			s.logger.Printf("WARN: expire booking=%s: %v", b.Reference, err)
			continue
		}
		if !won {
			continue
		}
		if err := s.holds.Remove(ctx, b.ID); err != nil {
			s.logger.Printf("WARN: hold registry remove booking=%s: %v", b.Reference, err)
		}
		if err := s.refundCaptured(ctx, b, b.PaymentID, "hold expired"); err != nil {
			s.logger.Printf("WARN: refund expired booking=%s: %v", b.Reference, err)
		}
		expired++
	}
	return expired, nil
}

// RetryDeliveries re-drives issuance/delivery for confirmed bookings whose
// tickets never reached the delivery collaborator.
func (s *BookingService) RetryDeliveries(ctx context.Context) (int, error) {
	pending, err := s.bookings.ListUndelivered(ctx, deliverySweepLimit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, b := range pending {
		tickets, err := s.tickets.ListByBooking(ctx, b.ID)
		if err != nil {
			s.logger.Printf("WARN: list tickets booking=%s: %v", b.Reference, err)
			continue
		}
		if len(tickets) == 0 {
			tickets, err = s.tickets.Issue(ctx, b)
			if err != nil {
				s.logger.Printf("WARN: issue tickets booking=%s: %v", b.Reference, err)
				continue
			}
		}
		before := b.DeliveredAt
		s.deliver(ctx, &b, tickets)
		if before == nil && b.DeliveredAt != nil {
			delivered++
		}
	}
	return delivered, nil
}

// cutoffPassed reports whether the sales window for the slot has closed.
// Timed slots count back from the start time; day-entry slots sell through
// the day and count back from closing instead of midnight.
func cutoffPassed(key domain.SlotKey, cutoffHours int, now time.Time) bool {
	anchor := key.StartAt()
	if key.Timeslot == "" {
		anchor = key.EndOfDay()
	}
	return !now.Before(anchor.Add(-time.Duration(cutoffHours) * time.Hour))
}
