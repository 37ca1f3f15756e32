package domain

import "time"

type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "active"
	TicketStatusValidated TicketStatus = "validated"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusExpired   TicketStatus = "expired"
)

// Ticket is one redeemable guest unit of a confirmed booking. The payload is
// a signed encoding of the ticket facts, verifiable without a database
// round-trip. The active→validated transition happens exactly once.
type Ticket struct {
	ID           string
	TicketNumber string
	BookingID    string
	ResourceID   string
	ValidFrom    time.Time
	ValidUntil   time.Time
	Payload      string
	Status       TicketStatus
	ValidatedAt  *time.Time
	ValidatedBy  string
	CancelledAt  *time.Time
	CancelReason string
	IssuedAt     time.Time
}
