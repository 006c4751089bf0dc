package domain

import (
	"strings"
	"time"
)

// ReservationStatus is the persisted lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusConfirmed ReservationStatus = "confirmada"
	StatusCancelled ReservationStatus = "cancelada"
)

// Reservation is a paid booking of one court for one slot.
type Reservation struct {
	ID           int64             `json:"id"`
	Date         string            `json:"date"`
	Time         string            `json:"time"`
	CourtID      int               `json:"court_id"`
	ClientName   string            `json:"client_name"`
	ClientPhone  string            `json:"client_phone"`
	Status       ReservationStatus `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	OperationRef string            `json:"operation_ref,omitempty"`
}

// Active reports whether the reservation still holds its slot.
func (r *Reservation) Active() bool {
	return r.Status != StatusCancelled
}

// Initials returns up to two uppercase letters taken from the first two name tokens.
func (r *Reservation) Initials() string {
	var b strings.Builder
	for i, part := range strings.Fields(r.ClientName) {
		if i == 2 {
			break
		}
		first := []rune(part)[0]
		b.WriteString(strings.ToUpper(string(first)))
	}
	return b.String()
}

// Draft is a reservation request that is waiting for its deposit.
type Draft struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	CourtID int    `json:"court_id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
}
