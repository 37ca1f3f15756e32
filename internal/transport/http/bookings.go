package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/app"
	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

// BookingOrchestrator is the saga surface the booking endpoints drive.
type BookingOrchestrator interface {
	Create(ctx context.Context, in app.CreateBookingInput) (app.CreateBookingResult, error)
	Confirm(ctx context.Context, in app.ConfirmBookingInput) (app.ConfirmBookingResult, error)
	Cancel(ctx context.Context, in app.CancelBookingInput) (domain.Booking, error)
	Get(ctx context.Context, bookingID string) (domain.Booking, error)
}

type createBookingRequest struct {
	ResourceID     string  `json:"resource_id"`
	Date           string  `json:"date"`
	Timeslot       string  `json:"timeslot"`
	Quantity       int     `json:"quantity"`
	GuestName      string  `json:"guest_name"`
	GuestEmail     string  `json:"guest_email"`
	GuestPhone     string  `json:"guest_phone"`
	DiscountAmount float64 `json:"discount_amount"`
}

func (r createBookingRequest) validate() (time.Time, error) {
	if r.ResourceID == "" || r.Date == "" {
		return time.Time{}, errors.New("resource_id and date are required")
	}
	if r.GuestName == "" || r.GuestEmail == "" {
		return time.Time{}, errors.New("guest_name and guest_email are required")
	}
	if r.Quantity <= 0 {
		return time.Time{}, domain.ErrInvalidQuantity
	}
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return date, nil
}

type pricingResponse struct {
	BaseAmount       float64 `json:"base_amount"`
	TaxAmount        float64 `json:"tax_amount"`
	FeeAmount        float64 `json:"fee_amount"`
	DiscountAmount   float64 `json:"discount_amount"`
	TotalAmount      float64 `json:"total_amount"`
	CommissionAmount float64 `json:"commission_amount"`
	Currency         string  `json:"currency"`
}

type paymentSessionResponse struct {
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
}

type bookingResponse struct {
	ID            string                  `json:"id"`
	Reference     string                  `json:"reference"`
	ResourceID    string                  `json:"resource_id"`
	Date          string                  `json:"date"`
	Timeslot      string                  `json:"timeslot,omitempty"`
	Quantity      int                     `json:"quantity"`
	Status        string                  `json:"status"`
	Pricing       pricingResponse         `json:"pricing"`
	HoldExpiresAt time.Time               `json:"hold_expires_at"`
	PaymentID     string                  `json:"payment_id,omitempty"`
	Payment       *paymentSessionResponse `json:"payment_session,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

func toBookingResponse(b domain.Booking, session *domain.PaymentSession) bookingResponse {
	resp := bookingResponse{
		ID:         b.ID,
		Reference:  b.Reference,
		ResourceID: b.Slot.ResourceID,
		Date:       b.Slot.Date.Format("2006-01-02"),
		Timeslot:   b.Slot.Timeslot,
		Quantity:   b.Quantity,
		Status:     string(b.Status),
		Pricing: pricingResponse{
			BaseAmount:       b.Pricing.BaseAmount,
			TaxAmount:        b.Pricing.TaxAmount,
			FeeAmount:        b.Pricing.FeeAmount,
			DiscountAmount:   b.Pricing.DiscountAmount,
			TotalAmount:      b.Pricing.TotalAmount,
			CommissionAmount: b.Pricing.CommissionAmount,
			Currency:         b.Pricing.Currency,
		},
		HoldExpiresAt: b.HoldExpiresAt,
		PaymentID:     b.PaymentID,
		CreatedAt:     b.CreatedAt,
	}
	if session != nil {
		resp.Payment = &paymentSessionResponse{
			PaymentID:   session.PaymentID,
			RedirectURL: session.RedirectURL,
		}
	}
	return resp
}

// HandleCreateBooking serves POST /bookings.
func HandleCreateBooking(svc BookingOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookingRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		date, err := req.validate()
		if err != nil {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, err.Error())
			return
		}

		res, err := svc.Create(r.Context(), app.CreateBookingInput{
			Slot: domain.SlotKey{
				ResourceID: req.ResourceID,
				Date:       date,
				Timeslot:   req.Timeslot,
			},
			Quantity: req.Quantity,
			Guest: domain.Guest{
				Name:  req.GuestName,
				Email: req.GuestEmail,
				Phone: req.GuestPhone,
			},
			DiscountAmount: req.DiscountAmount,
		})
		if err != nil {
			writeBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(res.Booking, res.PaymentSession))
	}
}

// HandleGetBooking serves GET /bookings/{id}.
func HandleGetBooking(svc BookingOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		booking, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(booking, nil))
	}
}

type confirmBookingRequest struct {
	PaymentReference string `json:"payment_reference"`
}

type ticketResponse struct {
	TicketNumber string    `json:"ticket_number"`
	Payload      string    `json:"payload"`
	Status       string    `json:"status"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidUntil   time.Time `json:"valid_until"`
}

// HandleConfirmBooking serves POST /bookings/{id}/confirm.
func HandleConfirmBooking(svc BookingOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmBookingRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
		}

		res, err := svc.Confirm(r.Context(), app.ConfirmBookingInput{
			BookingID:        chi.URLParam(r, "id"),
			PaymentReference: req.PaymentReference,
		})
		if err != nil {
			writeBookingError(w, err)
			return
		}

		tickets := make([]ticketResponse, 0, len(res.Tickets))
		for _, t := range res.Tickets {
			tickets = append(tickets, ticketResponse{
				TicketNumber: t.TicketNumber,
				Payload:      t.Payload,
				Status:       string(t.Status),
				ValidFrom:    t.ValidFrom,
				ValidUntil:   t.ValidUntil,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"booking": toBookingResponse(res.Booking, nil),
			"tickets": tickets,
		})
	}
}

type cancelBookingRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

// HandleCancelBooking serves POST /bookings/{id}/cancel.
func HandleCancelBooking(svc BookingOrchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelBookingRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
		}

		booking, err := svc.Cancel(r.Context(), app.CancelBookingInput{
			BookingID: chi.URLParam(r, "id"),
			ActorID:   req.ActorID,
			Reason:    req.Reason,
		})
		if err != nil {
			writeBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(booking, nil))
	}
}

func writeBookingError(w http.ResponseWriter, err error) {
	var compErr *domain.CompensationError
	if errors.As(err, &compErr) {
		// The primary outcome stands but a compensating action needs
		// operator follow-up; do not mask it as a generic failure.
		writeError(w, http.StatusConflict, codeInternalError, compErr.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, codeInvalidQuantity, err.Error())
	case errors.Is(err, domain.ErrQuantityOutOfRange):
		writeError(w, http.StatusBadRequest, codeQuantityOutOfRange, err.Error())
	case errors.Is(err, domain.ErrGuestContactRequired):
		writeError(w, http.StatusBadRequest, codeMissingRequiredField, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, domain.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, codeSlotNotFound, err.Error())
	case errors.Is(err, domain.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, codeBookingNotFound, err.Error())
	case errors.Is(err, domain.ErrNotAvailable):
		writeError(w, http.StatusConflict, codeNotAvailable, err.Error())
	case errors.Is(err, domain.ErrInsufficientCapacity):
		writeError(w, http.StatusConflict, codeInsufficientCapacity, err.Error())
	case errors.Is(err, domain.ErrCutoffPassed):
		writeError(w, http.StatusConflict, codeCutoffPassed, err.Error())
	case errors.Is(err, domain.ErrHoldExpired):
		writeError(w, http.StatusConflict, codeHoldExpired, err.Error())
	case errors.Is(err, domain.ErrBookingNotPending):
		writeError(w, http.StatusConflict, codeBookingNotPending, err.Error())
	case errors.Is(err, domain.ErrBookingNotCancelable):
		writeError(w, http.StatusConflict, codeBookingNotCancelable, err.Error())
	case errors.Is(err, domain.ErrCannotCancelRedeemed):
		writeError(w, http.StatusConflict, codeCannotCancelRedeemed, err.Error())
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		writeError(w, http.StatusPaymentRequired, codePaymentIncomplete, "payment incomplete, please retry")
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeCollaboratorDown, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
