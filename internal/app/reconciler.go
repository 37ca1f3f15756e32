package app

import (
	"context"
	"log"
	"time"
)

// Reconciler is the in-process fallback for the storage-driven hold expiry:
// it periodically finalizes stale pending bookings and re-drives ticket
// delivery for confirmed bookings that never reached the notification
// collaborator.
type Reconciler struct {
	bookings *BookingService
	interval time.Duration
	logger   *log.Logger
}

func NewReconciler(bookings *BookingService, interval time.Duration, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{bookings: bookings, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	if n, err := r.bookings.ExpireStale(ctx); err != nil {
		r.logger.Printf("WARN: expire sweep: %v", err)
	} else if n > 0 {
		r.logger.Printf("expired %d stale pending bookings", n)
	}

	if n, err := r.bookings.RetryDeliveries(ctx); err != nil {
		r.logger.Printf("WARN: delivery sweep: %v", err)
	} else if n > 0 {
		r.logger.Printf("retried delivery for %d bookings", n)
	}
}
