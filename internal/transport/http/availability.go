package http

import (
	"context"
	"net/http"
	"time"

	"github.com/FrankSpooren/HolidaiButler-sub005/internal/domain"
)

// AvailabilityChecker is the minimal ledger slice the availability endpoints
// need.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, key domain.SlotKey) (domain.Availability, error)
	GetRange(ctx context.Context, resourceID string, from, to time.Time) ([]domain.Slot, error)
}

// HandleCheckAvailability serves GET /availability.
func HandleCheckAvailability(svc AvailabilityChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.URL.Query().Get("resource_id")
		dateStr := r.URL.Query().Get("date")
		if resourceID == "" || dateStr == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "resource_id and date are required")
			return
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidDate, "date must be YYYY-MM-DD")
			return
		}

		key := domain.SlotKey{
			ResourceID: resourceID,
			Date:       date,
			Timeslot:   r.URL.Query().Get("timeslot"),
		}
		av, err := svc.CheckAvailability(r.Context(), key)
		if err != nil {
			switch err {
			case domain.ErrSlotNotFound:
				writeError(w, http.StatusNotFound, codeSlotNotFound, err.Error())
			case domain.ErrInvalidID:
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, av)
	}
}

type slotSnapshotResponse struct {
	Date              string  `json:"date"`
	Timeslot          string  `json:"timeslot,omitempty"`
	TotalCapacity     int     `json:"total_capacity"`
	AvailableCapacity int     `json:"available_capacity"`
	FinalPrice        float64 `json:"final_price"`
	Currency          string  `json:"currency"`
	IsActive          bool    `json:"is_active"`
}

// HandleAvailabilityCalendar serves GET /availability/calendar.
func HandleAvailabilityCalendar(svc AvailabilityChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.URL.Query().Get("resource_id")
		startStr := r.URL.Query().Get("start")
		endStr := r.URL.Query().Get("end")
		if resourceID == "" || startStr == "" || endStr == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "resource_id, start and end are required")
			return
		}
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidDate, "start must be YYYY-MM-DD")
			return
		}
		end, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidDate, "end must be YYYY-MM-DD")
			return
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, codeInvalidDate, "end must not be before start")
			return
		}

		slots, err := svc.GetRange(r.Context(), resourceID, start, end)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		out := make([]slotSnapshotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, slotSnapshotResponse{
				Date:              s.Key.Date.Format("2006-01-02"),
				Timeslot:          s.Key.Timeslot,
				TotalCapacity:     s.TotalCapacity,
				AvailableCapacity: s.AvailableCapacity(),
				FinalPrice:        s.FinalPrice,
				Currency:          s.Currency,
				IsActive:          s.IsActive,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"resource_id": resourceID,
			"slots":       out,
		})
	}
}
