package http

import (
	"encoding/json"
	"net/http"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidDate          = "invalid_date"
	codeInvalidQuantity      = "invalid_quantity"
	codeQuantityOutOfRange   = "quantity_out_of_range"
	codeInvalidID            = "invalid_id"
	codeSlotNotFound         = "slot_not_found"
	codeNotAvailable         = "not_available"
	codeInsufficientCapacity = "insufficient_capacity"
	codeCutoffPassed         = "cutoff_passed"
	codeBookingNotFound      = "booking_not_found"
	codeBookingNotPending    = "booking_not_pending"
	codeBookingNotCancelable = "booking_not_cancelable"
	codeHoldExpired          = "hold_expired"
	codePaymentIncomplete    = "payment_incomplete"
	codeTicketInvalid        = "ticket_invalid"
	codeTicketNotFound       = "ticket_not_found"
	codeAlreadyRedeemed      = "already_redeemed"
	codeWrongLocation        = "wrong_location"
	codeTicketNotYetValid    = "ticket_not_yet_valid"
	codeTicketExpired        = "ticket_expired"
	codeTicketNotActive      = "ticket_not_active"
	codeCannotCancelRedeemed = "cannot_cancel_redeemed"
	codeCollaboratorDown     = "collaborator_unavailable"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
