package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ciruelos/padelbot/internal/booking"
	"github.com/ciruelos/padelbot/internal/domain"
)

// StatsReporter exposes runtime counters of a background component.
type StatsReporter interface {
	Stats() map[string]any
}

// OperatorHandler serves read-only views of the booking book for club staff.
type OperatorHandler struct {
	avail *booking.Availability
	stats StatsReporter
	clock func() time.Time
}

// NewOperatorHandler creates an operator handler. clock supplies "today";
// stats may be nil.
func NewOperatorHandler(avail *booking.Availability, stats StatsReporter, clock func() time.Time) *OperatorHandler {
	if clock == nil {
		clock = domain.DefaultClub().Now
	}
	return &OperatorHandler{avail: avail, stats: stats, clock: clock}
}

// RegisterRoutes mounts the operator endpoints on r.
func (h *OperatorHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/grid/{date}", h.Grid)
	r.Get("/api/reservations", h.Reservations)
	r.Get("/api/dispatch", h.Dispatch)
}

// Dispatch reports message queue occupancy.
func (h *OperatorHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		JSON(w, http.StatusOK, map[string]any{})
		return
	}
	JSON(w, http.StatusOK, h.stats.Stats())
}

// Grid renders the daily occupancy grid. The date "hoy" means today.
func (h *OperatorHandler) Grid(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if date == "hoy" || date == "today" {
		date = h.clock().Format(domain.DateLayout)
	}
	if !domain.IsDate(date) {
		Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"date": date,
		"grid": h.avail.DailyGrid(r.Context(), date),
	})
}

// Reservations lists active reservations for the phone query parameter.
func (h *OperatorHandler) Reservations(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		Error(w, http.StatusBadRequest, "phone is required")
		return
	}

	rows := h.avail.ReservationsByPhone(r.Context(), phone)
	if rows == nil {
		rows = []domain.Reservation{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"phone":        phone,
		"reservations": rows,
	})
}
