// Package booking implements the reservation workflow: availability lookups
// over the reservation store and the per-user orchestration of a booking
// from intent to verified deposit.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/store"
)

// Availability answers slot questions over a reservation repository. Read
// failures are logged and surface as empty results.
type Availability struct {
	repo   store.ReservationRepository
	logger *slog.Logger
}

// NewAvailability wraps repo.
func NewAvailability(repo store.ReservationRepository, logger *slog.Logger) *Availability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Availability{repo: repo, logger: logger}
}

// Courts returns the configured court ids.
func (a *Availability) Courts() []int { return domain.CourtIDs() }

// Slots returns the valid slot start times.
func (a *Availability) Slots() []string { return domain.Slots() }

// ReservationsForDate returns every reservation on date, any status.
func (a *Availability) ReservationsForDate(ctx context.Context, date string) []domain.Reservation {
	rows, err := a.repo.ReservationsForDate(ctx, date)
	if err != nil {
		a.logger.Error("failed to load reservations for date", "date", date, "error", err)
		return nil
	}
	return rows
}

// FreeCourts returns the configured courts with no active reservation at (date, slot).
func (a *Availability) FreeCourts(ctx context.Context, date, slot string) []int {
	taken := make(map[int]bool)
	for _, r := range a.ReservationsForDate(ctx, date) {
		if r.Time == slot && r.Active() {
			taken[r.CourtID] = true
		}
	}

	var free []int
	for _, id := range domain.CourtIDs() {
		if !taken[id] {
			free = append(free, id)
		}
	}
	return free
}

// CreateReservation persists a confirmed reservation. Uniqueness violations
// come back as store.ErrSlotTaken or store.ErrOperationUsed.
func (a *Availability) CreateReservation(ctx context.Context, draft domain.Draft, operationRef string, now time.Time) (*domain.Reservation, error) {
	r, err := a.repo.CreateReservation(ctx, draft, operationRef, now)
	if err != nil {
		a.logger.Warn("failed to create reservation",
			"date", draft.Date,
			"time", draft.Time,
			"court_id", draft.CourtID,
			"operation_ref", operationRef,
			"error", err)
		return nil, err
	}
	a.logger.Info("reservation created",
		"reservation_id", r.ID,
		"date", r.Date,
		"time", r.Time,
		"court_id", r.CourtID,
		"operation_ref", operationRef)
	return r, nil
}

// ReservationsByPhone returns active reservations for phone ordered by date.
func (a *Availability) ReservationsByPhone(ctx context.Context, phone string) []domain.Reservation {
	rows, err := a.repo.ReservationsByPhone(ctx, phone)
	if err != nil {
		a.logger.Error("failed to load reservations by phone", "error", err)
		return nil
	}
	return rows
}

// ReservationByID returns the reservation or nil when absent.
func (a *Availability) ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	r, err := a.repo.ReservationByID(ctx, id)
	if err != nil {
		a.logger.Error("failed to load reservation", "reservation_id", id, "error", err)
		return nil, err
	}
	return r, nil
}

// CancelReservation flips a reservation to cancelled. It returns false
// without error when the reservation was already cancelled.
func (a *Availability) CancelReservation(ctx context.Context, id int64) (bool, error) {
	changed, err := a.repo.CancelReservation(ctx, id)
	if err != nil {
		a.logger.Error("failed to cancel reservation", "reservation_id", id, "error", err)
		return false, err
	}
	if changed {
		a.logger.Info("reservation cancelled", "reservation_id", id)
	}
	return changed, nil
}

// OperationUsed reports whether an active reservation already carries ref.
// A lookup failure reads as unused; the store's unique index still rejects
// the insert.
func (a *Availability) OperationUsed(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	used, err := a.repo.OperationUsed(ctx, ref)
	if err != nil {
		a.logger.Error("failed to check operation reference", "operation_ref", ref, "error", err)
		return false
	}
	return used
}

const gridCell = 7

// DailyGrid renders slots by courts for date. Occupied cells show the
// client's initials, free ones "libre".
func (a *Availability) DailyGrid(ctx context.Context, date string) string {
	occupied := make(map[string]domain.Reservation)
	for _, r := range a.ReservationsForDate(ctx, date) {
		if r.Active() {
			occupied[gridKey(r.CourtID, r.Time)] = r
		}
	}

	courts := domain.CourtIDs()
	var b strings.Builder
	fmt.Fprintf(&b, "Grilla %s:\n", date)

	header := []string{pad("Hora")}
	for _, id := range courts {
		header = append(header, pad(fmt.Sprintf("C%d", id)))
	}
	b.WriteString(strings.Join(header, "|"))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", (gridCell+1)*(len(courts)+1)-3))
	b.WriteString("\n")

	for _, slot := range domain.Slots() {
		b.WriteString(pad(slot))
		b.WriteString("|")
		for _, id := range courts {
			cell := "libre"
			if r, ok := occupied[gridKey(id, slot)]; ok {
				cell = r.Initials()
			}
			b.WriteString(pad(cell))
			b.WriteString("|")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func gridKey(court int, slot string) string {
	return fmt.Sprintf("%d@%s", court, slot)
}

func pad(s string) string {
	n := len([]rune(s))
	if n >= gridCell {
		return s
	}
	return s + strings.Repeat(" ", gridCell-n)
}
