package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

// TicketValidator is the minimal ticket-service slice for point-of-use
// scans.
type TicketValidator interface {
	Validate(ctx context.Context, payload, expectedResourceID, validatorID string) (domain.Ticket, error)
}

type validateTicketRequest struct {
	Payload     string `json:"payload"`
	ResourceID  string `json:"resource_id"`
	ValidatorID string `json:"validator_id"`
}

type validateTicketResponse struct {
	TicketNumber string    `json:"ticket_number"`
	Status       string    `json:"status"`
	ValidatedAt  time.Time `json:"validated_at"`
	ValidatedBy  string    `json:"validated_by"`
}

// HandleValidateTicket serves POST /tickets/validate. Front-line staff get
// distinct codes for "already used", "invalid ticket" and "wrong location"
// because each needs a different reaction at the gate.
func HandleValidateTicket(svc TicketValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req validateTicketRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Payload == "" || req.ResourceID == "" || req.ValidatorID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "payload, resource_id and validator_id are required")
			return
		}

		ticket, err := svc.Validate(r.Context(), req.Payload, req.ResourceID, req.ValidatorID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrTicketTampered):
				writeError(w, http.StatusBadRequest, codeTicketInvalid, err.Error())
			case errors.Is(err, domain.ErrTicketNotFound):
				writeError(w, http.StatusNotFound, codeTicketNotFound, err.Error())
			case errors.Is(err, domain.ErrWrongResource):
				writeError(w, http.StatusConflict, codeWrongLocation, err.Error())
			case errors.Is(err, domain.ErrAlreadyRedeemed):
				writeError(w, http.StatusConflict, codeAlreadyRedeemed, err.Error())
			case errors.Is(err, domain.ErrTicketNotYetValid):
				writeError(w, http.StatusConflict, codeTicketNotYetValid, err.Error())
			case errors.Is(err, domain.ErrTicketExpired):
				writeError(w, http.StatusConflict, codeTicketExpired, err.Error())
			case errors.Is(err, domain.ErrTicketNotActive):
				writeError(w, http.StatusConflict, codeTicketNotActive, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		resp := validateTicketResponse{
			TicketNumber: ticket.TicketNumber,
			Status:       string(ticket.Status),
			ValidatedBy:  ticket.ValidatedBy,
		}
		if ticket.ValidatedAt != nil {
			resp.ValidatedAt = *ticket.ValidatedAt
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
