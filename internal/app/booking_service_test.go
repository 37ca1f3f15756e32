package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/clock"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

type sagaFixture struct {
	svc      *BookingService
	bookings *fakeBookingRepo
	slots    *fakeSlotRepo
	cache    *fakeCache
	holds    *fakeHoldRegistry
	payments *fakePayments
	tickets  *fakeTicketIssuer
	delivery *fakeDeliverer
}

func newSagaFixture(now time.Time, slots ...domain.Slot) *sagaFixture {
	f := &sagaFixture{
		bookings: newFakeBookingRepo(),
		slots:    newFakeSlotRepo(slots...),
		cache:    newFakeCache(),
		holds:    newFakeHoldRegistry(),
		payments: newFakePayments(),
		tickets:  newFakeTicketIssuer(),
		delivery: &fakeDeliverer{},
	}
	ledger := NewLedgerService(f.slots, f.cache, clock.NewFixed(now), nil)
	f.svc = NewBookingService(
		f.bookings, ledger, f.holds, f.payments, f.tickets, f.delivery,
		clock.NewFixed(now), nil,
	)
	return f
}

func testSlot(key domain.SlotKey, total int) domain.Slot {
	return domain.Slot{
		ID:            "slot-1",
		Key:           key,
		TotalCapacity: total,
		BasePrice:     20,
		FinalPrice:    25,
		Currency:      "EUR",
		MinBooking:    1,
		MaxBooking:    10,
		CutoffHours:   2,
		IsActive:      true,
	}
}

func TestBookingService_Create(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Timeslot: "10:00"}
	guest := domain.Guest{Name: "Ada Visitor", Email: "ada@example.com"}

	t.Run("happy path reserves capacity and opens a payment session", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))

		res, err := f.svc.Create(context.Background(), CreateBookingInput{
			Slot: key, Quantity: 2, Guest: guest,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		b := res.Booking
		if b.Status != domain.BookingStatusPending {
			t.Fatalf("expected pending, got %s", b.Status)
		}
		if b.Reference == "" || b.ID == "" {
			t.Fatalf("expected id and reference to be set")
		}
		if !b.HoldExpiresAt.Equal(now.Add(15 * time.Minute)) {
			t.Fatalf("expected hold expiry %v, got %v", now.Add(15*time.Minute), b.HoldExpiresAt)
		}

		// 2 × 25.00 base, 21% tax, 1.50 fee, 10% commission on base.
		p := b.Pricing
		if p.BaseAmount != 50.00 || p.TaxAmount != 10.50 || p.FeeAmount != 1.50 {
			t.Fatalf("unexpected pricing components: %+v", p)
		}
		if p.TotalAmount != 62.00 {
			t.Fatalf("expected total 62.00, got %v", p.TotalAmount)
		}
		if p.CommissionAmount != 5.00 {
			t.Fatalf("expected commission 5.00, got %v", p.CommissionAmount)
		}

		if got := f.slots.slots[key.String()].ReservedCapacity; got != 2 {
			t.Fatalf("expected reserved 2, got %d", got)
		}
		if _, ok := f.holds.entries[b.ID]; !ok {
			t.Fatalf("expected a hold entry for the booking")
		}
		if res.PaymentSession == nil || res.PaymentSession.PaymentID == "" {
			t.Fatalf("expected a payment session, got %+v", res.PaymentSession)
		}
		if f.payments.sessions != 1 {
			t.Fatalf("expected 1 payment session created, got %d", f.payments.sessions)
		}
		if stored := f.bookings.bookings[b.ID]; stored.PaymentID != res.PaymentSession.PaymentID {
			t.Fatalf("expected payment id recorded on booking")
		}
	})

	t.Run("rejects quantity above slot maximum", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))

		_, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 11, Guest: guest})
		if !errors.Is(err, domain.ErrQuantityOutOfRange) {
			t.Fatalf("expected ErrQuantityOutOfRange, got %v", err)
		}
	})

	t.Run("rejects booking past the cutoff", func(t *testing.T) {
		lateNow := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC) // 1h before start, cutoff is 2h
		f := newSagaFixture(lateNow, testSlot(key, 50))

		_, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 2, Guest: guest})
		if !errors.Is(err, domain.ErrCutoffPassed) {
			t.Fatalf("expected ErrCutoffPassed, got %v", err)
		}
	})

	t.Run("day-level inventory sells through the day", func(t *testing.T) {
		dayKey := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
		midday := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		f := newSagaFixture(midday, testSlot(dayKey, 50))

		// Same-day booking stays possible: the cutoff counts back from
		// closing, not midnight.
		if _, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: dayKey, Quantity: 1, Guest: guest}); err != nil {
			t.Fatalf("expected same-day booking to succeed, got %v", err)
		}

		// Within the cutoff window of closing it is rejected.
		lateEvening := time.Date(2026, 6, 1, 22, 30, 0, 0, time.UTC)
		lateF := newSagaFixture(lateEvening, testSlot(dayKey, 50))
		if _, err := lateF.svc.Create(context.Background(), CreateBookingInput{Slot: dayKey, Quantity: 1, Guest: guest}); !errors.Is(err, domain.ErrCutoffPassed) {
			t.Fatalf("expected ErrCutoffPassed, got %v", err)
		}
	})

	t.Run("rejects more than remaining capacity", func(t *testing.T) {
		slot := testSlot(key, 5)
		slot.BookedCapacity = 3
		f := newSagaFixture(now, slot)

		_, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 3, Guest: guest})
		if !errors.Is(err, domain.ErrInsufficientCapacity) {
			t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
		}
		if len(f.bookings.bookings) != 0 {
			t.Fatalf("expected no booking persisted, got %d", len(f.bookings.bookings))
		}
	})

	t.Run("missing guest email", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))

		_, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 1, Guest: domain.Guest{Name: "No Mail"}})
		if !errors.Is(err, domain.ErrGuestContactRequired) {
			t.Fatalf("expected ErrGuestContactRequired, got %v", err)
		}
	})

	t.Run("stale cache: failed reservation deletes the booking", func(t *testing.T) {
		slot := testSlot(key, 5)
		slot.BookedCapacity = 5
		f := newSagaFixture(now, slot)
		// Cached snapshot still shows room; the conditional update is the
		// real guard.
		f.cache.entries[key.String()] = domain.Availability{
			SlotID: "slot-1", Available: true, AvailableCapacity: 3,
			FinalPrice: 25, Currency: "EUR", MinBooking: 1, MaxBooking: 10, IsActive: true,
		}

		_, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 2, Guest: guest})
		if !errors.Is(err, domain.ErrInsufficientCapacity) {
			t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
		}
		if len(f.bookings.bookings) != 0 {
			t.Fatalf("expected compensating delete to remove the booking")
		}
	})

	t.Run("payment session failure leaves the booking pending", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		f.payments.failCreate = true

		res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 2, Guest: guest})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.PaymentSession != nil {
			t.Fatalf("expected no payment session")
		}
		if res.Booking.Status != domain.BookingStatusPending {
			t.Fatalf("expected booking pending, got %s", res.Booking.Status)
		}
		if got := f.slots.slots[key.String()].ReservedCapacity; got != 2 {
			t.Fatalf("expected reservation kept, got reserved=%d", got)
		}
	})

	t.Run("hold registry outage does not fail the booking", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		f.holds.failPlace = true

		res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 1, Guest: guest})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Booking.Status != domain.BookingStatusPending {
			t.Fatalf("expected pending, got %s", res.Booking.Status)
		}
	})
}

func TestBookingService_Confirm(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Timeslot: "10:00"}
	guest := domain.Guest{Name: "Ada Visitor", Email: "ada@example.com"}

	create := func(t *testing.T, f *sagaFixture, qty int) domain.Booking {
		t.Helper()
		res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: qty, Guest: guest})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return res.Booking
	}

	t.Run("captured payment confirms and issues tickets", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured

		res, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Booking.Status != domain.BookingStatusConfirmed {
			t.Fatalf("expected confirmed, got %s", res.Booking.Status)
		}
		if len(res.Tickets) != 2 {
			t.Fatalf("expected 2 tickets, got %d", len(res.Tickets))
		}

		slot := f.slots.slots[key.String()]
		if slot.BookedCapacity != 2 || slot.ReservedCapacity != 0 {
			t.Fatalf("expected booked=2 reserved=0, got booked=%d reserved=%d", slot.BookedCapacity, slot.ReservedCapacity)
		}
		if _, ok := f.holds.entries[b.ID]; ok {
			t.Fatalf("expected hold removed after confirm")
		}
		if f.delivery.calls != 1 {
			t.Fatalf("expected 1 delivery, got %d", f.delivery.calls)
		}
		if f.bookings.bookings[b.ID].DeliveredAt == nil {
			t.Fatalf("expected booking marked delivered")
		}
	})

	t.Run("repeat confirm does not issue twice", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured

		if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		res, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if err != nil {
			t.Fatalf("second confirm: %v", err)
		}
		if len(res.Tickets) != 2 {
			t.Fatalf("expected the same 2 tickets, got %d", len(res.Tickets))
		}
		if f.tickets.issueCalls != 1 {
			t.Fatalf("expected a single issuance, got %d", f.tickets.issueCalls)
		}
		slot := f.slots.slots[key.String()]
		if slot.BookedCapacity != 2 {
			t.Fatalf("expected booked capacity unchanged at 2, got %d", slot.BookedCapacity)
		}
	})

	t.Run("concurrent confirms issue one ticket set", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured

		var wg sync.WaitGroup
		results := make([]ConfirmBookingResult, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
			}(i)
		}
		wg.Wait()

		for i := range errs {
			if errs[i] != nil {
				t.Fatalf("confirm %d: %v", i, errs[i])
			}
			if len(results[i].Tickets) != 2 {
				t.Fatalf("confirm %d: expected 2 tickets, got %d", i, len(results[i].Tickets))
			}
		}
		if got := len(f.tickets.issued[b.ID]); got != 2 {
			t.Fatalf("expected one set of 2 tickets, got %d", got)
		}
		slot := f.slots.slots[key.String()]
		if slot.BookedCapacity != 2 || slot.ReservedCapacity != 0 {
			t.Fatalf("expected capacity committed once, got booked=%d reserved=%d", slot.BookedCapacity, slot.ReservedCapacity)
		}
	})

	t.Run("losing to the expiry sweep refunds the captured charge", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 2))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		// The sweep flips the booking between the payment check and the
		// guarded transition.
		f.bookings.beforeTransition = func() {
			f.bookings.bookings[b.ID].Status = domain.BookingStatusExpired
		}

		_, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if !errors.Is(err, domain.ErrHoldExpired) {
			t.Fatalf("expected ErrHoldExpired, got %v", err)
		}
		if len(f.payments.refunds) != 1 {
			t.Fatalf("expected the captured charge refunded, got %d refunds", len(f.payments.refunds))
		}
	})

	t.Run("refund failure after losing to the sweep is surfaced", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 2))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		f.payments.failRefund = true
		f.bookings.beforeTransition = func() {
			f.bookings.bookings[b.ID].Status = domain.BookingStatusExpired
		}

		_, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		var compErr *domain.CompensationError
		if !errors.As(err, &compErr) {
			t.Fatalf("expected CompensationError, got %v", err)
		}
		if !errors.Is(err, domain.ErrHoldExpired) {
			t.Fatalf("expected the expiry to stay visible, got %v", err)
		}
	})

	t.Run("unpaid payment is rejected", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.status[b.PaymentID] = domain.PaymentStatusPending

		_, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if !errors.Is(err, domain.ErrPaymentNotCompleted) {
			t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
		}
		if f.bookings.bookings[b.ID].Status != domain.BookingStatusPending {
			t.Fatalf("expected booking still pending")
		}
	})

	t.Run("payment provider outage is distinguishable", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.failStatus = true

		_, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
			t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
		}
	})

	t.Run("expired booking cannot be confirmed", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.bookings.bookings[b.ID].Status = domain.BookingStatusExpired

		_, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if !errors.Is(err, domain.ErrHoldExpired) {
			t.Fatalf("expected ErrHoldExpired, got %v", err)
		}
	})

	t.Run("issuance failure leaves the booking confirmed", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		f.tickets.failIssue = true

		res, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if err == nil {
			t.Fatalf("expected an error")
		}
		if res.Booking.Status != domain.BookingStatusConfirmed {
			t.Fatalf("paid booking must stay confirmed, got %s", res.Booking.Status)
		}
		if f.bookings.bookings[b.ID].Status != domain.BookingStatusConfirmed {
			t.Fatalf("expected stored booking confirmed")
		}
	})

	t.Run("delivery failure does not fail the confirm", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		f.delivery.fail = true

		res, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Booking.DeliveredAt != nil {
			t.Fatalf("expected booking not marked delivered")
		}
		if f.bookings.bookings[b.ID].DeliveredAt != nil {
			t.Fatalf("expected stored booking not marked delivered")
		}
	})
}

func TestBookingService_ExpireStale(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Timeslot: "10:00"}
	guest := domain.Guest{Name: "Ada Visitor", Email: "ada@example.com"}

	f := newSagaFixture(now, testSlot(key, 50))
	res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 3, Guest: guest})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Booking
	// The guest paid but the confirmation signal never arrived.
	f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured

	// Nothing is stale yet.
	n, err := f.svc.ExpireStale(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected 0 expired, got %d (%v)", n, err)
	}

	// Move the hold window into the past.
	f.bookings.bookings[b.ID].HoldExpiresAt = now.Add(-time.Minute)

	n, err = f.svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if got := f.bookings.bookings[b.ID].Status; got != domain.BookingStatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if got := f.slots.slots[key.String()].ReservedCapacity; got != 0 {
		t.Fatalf("expected reservation released, reserved=%d", got)
	}
	if _, ok := f.holds.entries[b.ID]; ok {
		t.Fatalf("expected hold entry removed")
	}
	if len(f.payments.refunds) != 1 {
		t.Fatalf("expected the captured charge refunded, got %d refunds", len(f.payments.refunds))
	}

	// Confirming afterwards reports the expiry without refunding again.
	if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); !errors.Is(err, domain.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if len(f.payments.refunds) != 1 {
		t.Fatalf("expected no second refund, got %d", len(f.payments.refunds))
	}
}

func TestBookingService_Cancel(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Timeslot: "10:00"}
	guest := domain.Guest{Name: "Ada Visitor", Email: "ada@example.com"}

	create := func(t *testing.T, f *sagaFixture, qty int) domain.Booking {
		t.Helper()
		res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: qty, Guest: guest})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return res.Booking
	}

	t.Run("pending cancellation releases the reservation", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)

		got, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID, ActorID: "guest", Reason: "changed plans"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != domain.BookingStatusCancelled {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
		slot := f.slots.slots[key.String()]
		if slot.ReservedCapacity != 0 || slot.BookedCapacity != 0 {
			t.Fatalf("expected counters back to zero, got reserved=%d booked=%d", slot.ReservedCapacity, slot.BookedCapacity)
		}
		if _, ok := f.holds.entries[b.ID]; ok {
			t.Fatalf("expected hold removed")
		}
	})

	t.Run("confirmed cancellation returns capacity and refunds", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); err != nil {
			t.Fatalf("confirm: %v", err)
		}

		got, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID, ActorID: "operator", Reason: "venue closed"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != domain.BookingStatusCancelled {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
		if f.slots.slots[key.String()].BookedCapacity != 0 {
			t.Fatalf("expected booked capacity returned")
		}
		if len(f.payments.refunds) != 1 {
			t.Fatalf("expected 1 refund request, got %d", len(f.payments.refunds))
		}
		if len(f.tickets.cancelledFor) != 1 {
			t.Fatalf("expected booking tickets cancelled")
		}
	})

	t.Run("paid but unconfirmed cancellation refunds the charge", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 2)
		// Charge captured, confirmation signal never arrived.
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured

		got, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID, ActorID: "guest", Reason: "changed plans"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != domain.BookingStatusCancelled {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
		if len(f.payments.refunds) != 1 {
			t.Fatalf("expected the captured charge refunded, got %d refunds", len(f.payments.refunds))
		}
		if reserved := f.slots.slots[key.String()].ReservedCapacity; reserved != 0 {
			t.Fatalf("expected reservation released, reserved=%d", reserved)
		}
	})

	t.Run("redeemed booking cannot be cancelled", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		f.tickets.validated[b.ID] = true

		_, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID})
		if !errors.Is(err, domain.ErrCannotCancelRedeemed) {
			t.Fatalf("expected ErrCannotCancelRedeemed, got %v", err)
		}
		if f.bookings.bookings[b.ID].Status != domain.BookingStatusConfirmed {
			t.Fatalf("expected booking untouched")
		}
	})

	t.Run("cancelling twice is rejected", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		if _, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID}); err != nil {
			t.Fatalf("first cancel: %v", err)
		}
		if _, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID}); !errors.Is(err, domain.ErrBookingNotCancelable) {
			t.Fatalf("expected ErrBookingNotCancelable, got %v", err)
		}
	})

	t.Run("refund failure is surfaced as a compensation error", func(t *testing.T) {
		f := newSagaFixture(now, testSlot(key, 50))
		b := create(t, f, 1)
		f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
		if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		f.payments.failRefund = true

		_, err := f.svc.Cancel(context.Background(), CancelBookingInput{BookingID: b.ID, Reason: "venue closed"})
		var compErr *domain.CompensationError
		if !errors.As(err, &compErr) {
			t.Fatalf("expected CompensationError, got %v", err)
		}
		// The cancellation itself stands; only the refund needs follow-up.
		if f.bookings.bookings[b.ID].Status != domain.BookingStatusCancelled {
			t.Fatalf("expected booking cancelled despite refund failure")
		}
	})
}

func TestBookingService_RetryDeliveries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ResourceID: "museum-1", Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Timeslot: "10:00"}
	guest := domain.Guest{Name: "Ada Visitor", Email: "ada@example.com"}

	f := newSagaFixture(now, testSlot(key, 50))
	res, err := f.svc.Create(context.Background(), CreateBookingInput{Slot: key, Quantity: 1, Guest: guest})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Booking
	f.payments.status[b.PaymentID] = domain.PaymentStatusCaptured
	f.delivery.fail = true
	if _, err := f.svc.Confirm(context.Background(), ConfirmBookingInput{BookingID: b.ID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	f.delivery.fail = false
	n, err := f.svc.RetryDeliveries(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if f.bookings.bookings[b.ID].DeliveredAt == nil {
		t.Fatalf("expected booking marked delivered")
	}
	if f.tickets.issueCalls != 1 {
		t.Fatalf("expected no re-issuance, got %d issue calls", f.tickets.issueCalls)
	}
}

// --- fakes ---

type fakeBookingRepo struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking

	// beforeTransition, when set, runs once at the next TransitionStatus
	// call. Lets a test interleave the expiry sweep with a confirm.
	beforeTransition func()
}

func newFakeBookingRepo() *fakeBookingRepo {
	return &fakeBookingRepo{bookings: make(map[string]*domain.Booking)}
}

func (r *fakeBookingRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *fakeBookingRepo) Create(_ context.Context, b domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = &b
	return nil
}

func (r *fakeBookingRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bookings, id)
	return nil
}

func (r *fakeBookingRepo) GetByID(_ context.Context, id string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return *b, nil
}

func (r *fakeBookingRepo) GetByReference(_ context.Context, reference string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.Reference == reference {
			return *b, nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (r *fakeBookingRepo) GetForUpdate(ctx context.Context, id string) (domain.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeBookingRepo) TransitionStatus(_ context.Context, id string, from, to domain.BookingStatus, at time.Time) (bool, error) {
	if fn := r.beforeTransition; fn != nil {
		r.beforeTransition = nil
		fn()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	return true, nil
}

func (r *fakeBookingRepo) SetConfirmed(_ context.Context, id, paymentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.PaymentID = paymentID
	b.ConfirmedAt = &at
	return nil
}

func (r *fakeBookingRepo) SetPaymentID(_ context.Context, id, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.PaymentID = paymentID
	return nil
}

func (r *fakeBookingRepo) SetCancellation(_ context.Context, id, actorID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.CancelledAt = &at
	b.CancelledBy = actorID
	b.CancelReason = reason
	return nil
}

func (r *fakeBookingRepo) MarkDelivered(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrBookingNotFound
	}
	b.DeliveredAt = &at
	return nil
}

func (r *fakeBookingRepo) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingStatusPending && !b.HoldExpiresAt.After(now) {
			out = append(out, *b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeBookingRepo) ListUndelivered(_ context.Context, limit int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Status == domain.BookingStatusConfirmed && b.DeliveredAt == nil {
			out = append(out, *b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeHoldRegistry struct {
	mu        sync.Mutex
	entries   map[string]domain.Hold
	failPlace bool
}

func newFakeHoldRegistry() *fakeHoldRegistry {
	return &fakeHoldRegistry{entries: make(map[string]domain.Hold)}
}

func (h *fakeHoldRegistry) Place(_ context.Context, hold domain.Hold, _ time.Duration) error {
	if h.failPlace {
		return errors.New("registry down")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[hold.BookingID] = hold
	return nil
}

func (h *fakeHoldRegistry) Get(_ context.Context, bookingID string) (*domain.Hold, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hold, ok := h.entries[bookingID]
	if !ok {
		return nil, nil
	}
	return &hold, nil
}

func (h *fakeHoldRegistry) Remove(_ context.Context, bookingID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, bookingID)
	return nil
}

type fakePayments struct {
	mu         sync.Mutex
	sessions   int
	status     map[string]domain.PaymentStatus
	refunds    []string
	failCreate bool
	failStatus bool
	failRefund bool
}

func newFakePayments() *fakePayments {
	return &fakePayments{status: make(map[string]domain.PaymentStatus)}
}

func (p *fakePayments) CreateSession(_ context.Context, amount float64, currency, reference string) (domain.PaymentSession, error) {
	if p.failCreate {
		return domain.PaymentSession{}, errors.New("provider down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions++
	id := "pay-" + reference
	p.status[id] = domain.PaymentStatusPending
	return domain.PaymentSession{PaymentID: id, RedirectURL: "https://pay.example/" + id}, nil
}

func (p *fakePayments) GetStatus(_ context.Context, paymentID string) (domain.PaymentStatus, error) {
	if p.failStatus {
		return "", errors.New("provider down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.status[paymentID]
	if !ok {
		return domain.PaymentStatusFailed, nil
	}
	return status, nil
}

func (p *fakePayments) Refund(_ context.Context, paymentID string, _ float64, _ string) (string, error) {
	if p.failRefund {
		return "", errors.New("provider down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, paymentID)
	return "refund-" + paymentID, nil
}

// fakeTicketIssuer honors the TicketIssuer contract: Issue converges on one
// ticket set per booking no matter how many callers race it.
type fakeTicketIssuer struct {
	mu           sync.Mutex
	issued       map[string][]domain.Ticket
	validated    map[string]bool
	cancelledFor []string
	issueCalls   int
	failIssue    bool
}

func newFakeTicketIssuer() *fakeTicketIssuer {
	return &fakeTicketIssuer{
		issued:    make(map[string][]domain.Ticket),
		validated: make(map[string]bool),
	}
}

func (f *fakeTicketIssuer) Issue(_ context.Context, b domain.Booking) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueCalls++
	if f.failIssue {
		return nil, errors.New("signing failed")
	}
	if existing := f.issued[b.ID]; len(existing) > 0 {
		return existing, nil
	}
	tickets := make([]domain.Ticket, 0, b.Quantity)
	for i := 0; i < b.Quantity; i++ {
		tickets = append(tickets, domain.Ticket{
			ID:           "ticket-" + b.ID,
			TicketNumber: "TK-" + b.Reference,
			BookingID:    b.ID,
			ResourceID:   b.Slot.ResourceID,
			Status:       domain.TicketStatusActive,
		})
	}
	f.issued[b.ID] = tickets
	return tickets, nil
}

func (f *fakeTicketIssuer) ListByBooking(_ context.Context, bookingID string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued[bookingID], nil
}

func (f *fakeTicketIssuer) AnyValidated(_ context.Context, bookingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validated[bookingID], nil
}

func (f *fakeTicketIssuer) CancelForBooking(_ context.Context, bookingID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledFor = append(f.cancelledFor, bookingID)
	return nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (d *fakeDeliverer) Deliver(_ context.Context, _ domain.Booking, _ []domain.Ticket) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return errors.New("broker down")
	}
	return nil
}
