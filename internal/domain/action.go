package domain

import (
	"errors"
	"fmt"
)

// ActionKind names a structured action requested by the conversation model.
type ActionKind string

const (
	KindPrepareReservation ActionKind = "prepare_reservation"
	KindPrepareBatch       ActionKind = "prepare_multiple_reservations"
	KindCheckAvailability  ActionKind = "consult_availability"
	KindListReservations   ActionKind = "consult_reservations"
	KindCancelReservation  ActionKind = "cancel_reservation"
	KindCancelReservations ActionKind = "cancel_multiple_reservations"
	KindViewGrid           ActionKind = "view_grid"
	KindEscalateToHuman    ActionKind = "escalate_to_human"
)

// Action is one of the concrete action types below.
type Action interface {
	Kind() ActionKind
	Validate() error
}

// PrepareReservation asks to hold a single slot pending its deposit.
type PrepareReservation struct {
	Draft Draft
}

// PrepareBatch asks to hold several slots pending one or more deposits.
type PrepareBatch struct {
	Drafts []Draft
}

// CheckAvailability asks which courts are free for a slot.
type CheckAvailability struct {
	Date string
	Time string
}

// ListReservations asks for the active reservations under a phone number.
type ListReservations struct {
	Phone string
}

// CancelReservation asks to cancel one reservation by id.
type CancelReservation struct {
	ID int64
}

// CancelReservations asks to cancel several reservations by id.
type CancelReservations struct {
	IDs []int64
}

// ViewGrid asks for the occupancy grid of a day.
type ViewGrid struct {
	Date string
}

// EscalateToHuman hands the conversation to a human operator.
type EscalateToHuman struct {
	Reason string
}

func (PrepareReservation) Kind() ActionKind { return KindPrepareReservation }
func (PrepareBatch) Kind() ActionKind       { return KindPrepareBatch }
func (CheckAvailability) Kind() ActionKind  { return KindCheckAvailability }
func (ListReservations) Kind() ActionKind   { return KindListReservations }
func (CancelReservation) Kind() ActionKind  { return KindCancelReservation }
func (CancelReservations) Kind() ActionKind { return KindCancelReservations }
func (ViewGrid) Kind() ActionKind           { return KindViewGrid }
func (EscalateToHuman) Kind() ActionKind    { return KindEscalateToHuman }

var (
	errMissingField = errors.New("missing field")
	errInvalidField = errors.New("invalid field")
)

// Validate checks a draft's fields against the club's courts and slots.
func (d Draft) Validate() error {
	if !IsDate(d.Date) {
		return fmt.Errorf("%w: date %q", errInvalidField, d.Date)
	}
	if !IsSlot(d.Time) {
		return fmt.Errorf("%w: time %q", errInvalidField, d.Time)
	}
	if !IsCourt(d.CourtID) {
		return fmt.Errorf("%w: court_id %d", errInvalidField, d.CourtID)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name", errMissingField)
	}
	if d.Phone == "" {
		return fmt.Errorf("%w: phone", errMissingField)
	}
	return nil
}

func (a PrepareReservation) Validate() error { return a.Draft.Validate() }

func (a PrepareBatch) Validate() error {
	if len(a.Drafts) == 0 {
		return fmt.Errorf("%w: reservations", errMissingField)
	}
	for i, d := range a.Drafts {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("reservation %d: %w", i, err)
		}
	}
	return nil
}

func (a CheckAvailability) Validate() error {
	if !IsDate(a.Date) {
		return fmt.Errorf("%w: date %q", errInvalidField, a.Date)
	}
	if !IsSlot(a.Time) {
		return fmt.Errorf("%w: time %q", errInvalidField, a.Time)
	}
	return nil
}

func (a ListReservations) Validate() error {
	if a.Phone == "" {
		return fmt.Errorf("%w: phone", errMissingField)
	}
	return nil
}

func (a CancelReservation) Validate() error {
	if a.ID <= 0 {
		return fmt.Errorf("%w: reservation_id %d", errInvalidField, a.ID)
	}
	return nil
}

func (a CancelReservations) Validate() error {
	if len(a.IDs) == 0 {
		return fmt.Errorf("%w: reservation_ids", errMissingField)
	}
	for _, id := range a.IDs {
		if id <= 0 {
			return fmt.Errorf("%w: reservation_id %d", errInvalidField, id)
		}
	}
	return nil
}

func (a ViewGrid) Validate() error {
	if !IsDate(a.Date) {
		return fmt.Errorf("%w: date %q", errInvalidField, a.Date)
	}
	return nil
}

func (a EscalateToHuman) Validate() error { return nil }

// Identity returns the name and phone an action carries, if any.
func Identity(a Action) (name, phone string) {
	switch v := a.(type) {
	case PrepareReservation:
		return v.Draft.Name, v.Draft.Phone
	case PrepareBatch:
		if len(v.Drafts) > 0 {
			return v.Drafts[0].Name, v.Drafts[0].Phone
		}
	case ListReservations:
		return "", v.Phone
	}
	return "", ""
}
