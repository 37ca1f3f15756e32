package http

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouterDeps bundles the service slices the REST surface needs.
type RouterDeps struct {
	Ledger      AvailabilityChecker
	Bookings    BookingOrchestrator
	Tickets     TicketValidator
	CORSOrigins []string
	Logger      *log.Logger
}

// NewRouter assembles the full HTTP surface.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", HandleHealth)

	r.Get("/availability", HandleCheckAvailability(deps.Ledger))
	r.Get("/availability/calendar", HandleAvailabilityCalendar(deps.Ledger))

	r.Post("/bookings", HandleCreateBooking(deps.Bookings))
	r.Get("/bookings/{id}", HandleGetBooking(deps.Bookings))
	r.Post("/bookings/{id}/confirm", HandleConfirmBooking(deps.Bookings))
	r.Post("/bookings/{id}/cancel", HandleCancelBooking(deps.Bookings))

	r.Post("/tickets/validate", HandleValidateTicket(deps.Tickets))

	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	return RequestLogger(CORS(deps.CORSOrigins, r), deps.Logger)
}
