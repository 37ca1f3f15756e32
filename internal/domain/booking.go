package domain

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

// Guest is the contact the tickets are delivered to.
type Guest struct {
	Name  string
	Email string
	Phone string
}

// Pricing is the monetary breakdown of a booking. Every amount is rounded
// to 2 decimals at the composition step that produced it.
type Pricing struct {
	BaseAmount       float64
	TaxAmount        float64
	FeeAmount        float64
	DiscountAmount   float64
	TotalAmount      float64
	CommissionAmount float64
	Currency         string
}

// Booking is the saga's root record. Only the orchestrator mutates it; the
// ledger and ticket issuer return facts the orchestrator records.
type Booking struct {
	ID            string
	Reference     string
	SlotID        string
	Slot          SlotKey
	Quantity      int
	Status        BookingStatus
	Guest         Guest
	Pricing       Pricing
	PaymentID     string
	HoldExpiresAt time.Time
	ConfirmedAt   *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	CancelledBy   string
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Hold is the ephemeral, TTL-bearing claim a pending booking has on slot
// capacity. It exists only between reservation and confirmation/release.
type Hold struct {
	BookingID string    `json:"booking_id"`
	Slot      SlotKey   `json:"slot"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PaymentSession is what the payment collaborator hands back for a new
// checkout.
type PaymentSession struct {
	PaymentID   string
	RedirectURL string
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Paid reports whether the status allows a booking to be confirmed.
func (s PaymentStatus) Paid() bool {
	return s == PaymentStatusAuthorized || s == PaymentStatusCaptured
}
