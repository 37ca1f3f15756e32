package domain

import "time"

// SlotKey identifies an inventory slot: a resource on a date, optionally
// narrowed to a timeslot ("15:04" format). Timeslot is the empty string for
// day-level inventory.
type SlotKey struct {
	ResourceID string
	Date       time.Time
	Timeslot   string
}

func (k SlotKey) String() string {
	return k.ResourceID + "|" + k.Date.Format("2006-01-02") + "|" + k.Timeslot
}

// StartAt returns the instant the slot begins, used for cutoff checks and
// ticket validity windows.
func (k SlotKey) StartAt() time.Time {
	d := k.Date
	if k.Timeslot == "" {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	t, err := time.Parse("15:04", k.Timeslot)
	if err != nil {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// EndOfDay returns the end of the slot's calendar day.
func (k SlotKey) EndOfDay() time.Time {
	d := k.Date
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.UTC)
}

// Slot is the capacity ledger row for one inventory slot. Available capacity
// is always derived from the three counters, never stored.
type Slot struct {
	ID               string
	Key              SlotKey
	TotalCapacity    int
	BookedCapacity   int
	ReservedCapacity int
	BasePrice        float64
	FinalPrice       float64
	Currency         string
	MinBooking       int
	MaxBooking       int
	CutoffHours      int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (s Slot) AvailableCapacity() int {
	return s.TotalCapacity - s.BookedCapacity - s.ReservedCapacity
}

// Availability is the read model served by the ledger's checkAvailability,
// cacheable as a unit.
type Availability struct {
	SlotID            string    `json:"slot_id"`
	Key               SlotKey   `json:"-"`
	Available         bool      `json:"available"`
	AvailableCapacity int       `json:"available_capacity"`
	TotalCapacity     int       `json:"total_capacity"`
	BasePrice         float64   `json:"base_price"`
	FinalPrice        float64   `json:"final_price"`
	Currency          string    `json:"currency"`
	MinBooking        int       `json:"min_booking"`
	MaxBooking        int       `json:"max_booking"`
	CutoffHours       int       `json:"cutoff_hours"`
	IsActive          bool      `json:"is_active"`
	CheckedAt         time.Time `json:"checked_at"`
}
