// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/shared"
)

var (
	// ErrDuplicate reports a uniqueness violation at write time.
	ErrDuplicate = errors.New("duplicate")
	// ErrSlotTaken reports that the (date, time, court) already holds an active reservation.
	ErrSlotTaken = fmt.Errorf("%w: slot already taken", ErrDuplicate)
	// ErrOperationUsed reports that a payment operation reference is already attached.
	ErrOperationUsed = fmt.Errorf("%w: operation reference already used", ErrDuplicate)
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")
)

// Index names shared by the SQL backends.
const (
	slotIndex      = "ux_reservations_slot"
	operationIndex = "ux_reservations_operation_ref"
)

// ReservationRepository persists reservations.
type ReservationRepository interface {
	// ReservationsForDate returns every reservation on date, any status, ordered by time and court.
	ReservationsForDate(ctx context.Context, date string) ([]domain.Reservation, error)

	// CreateReservation inserts a confirmed reservation for draft.
	// Returns ErrSlotTaken or ErrOperationUsed on uniqueness violations.
	CreateReservation(ctx context.Context, draft domain.Draft, operationRef string, createdAt time.Time) (*domain.Reservation, error)

	// ReservationsByPhone returns active reservations for phone ordered by date and time.
	ReservationsByPhone(ctx context.Context, phone string) ([]domain.Reservation, error)

	// ReservationByID returns nil, nil when no reservation has id.
	ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error)

	// CancelReservation flips an active reservation to cancelled.
	// Returns false when it was already cancelled and ErrNotFound when absent.
	CancelReservation(ctx context.Context, id int64) (bool, error)

	// OperationUsed reports whether an active reservation carries operationRef.
	OperationUsed(ctx context.Context, operationRef string) (bool, error)
}

// SessionRepository persists per-user conversation sessions.
type SessionRepository interface {
	// GetSession returns nil, nil when the user has no stored session.
	GetSession(ctx context.Context, userID string) (*domain.Session, error)

	// UpsertSession creates or replaces a user's session.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// ExpiredAwaitingSessions lists users awaiting proof since before the cutoff.
	ExpiredAwaitingSessions(ctx context.Context, before time.Time) ([]string, error)
}

// Repository is the full database-backed store.
type Repository interface {
	ReservationRepository
	SessionRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

var (
	_ Repository        = (*SQLiteStore)(nil)
	_ Repository        = (*PostgresStore)(nil)
	_ SessionRepository = (*RedisSessionStore)(nil)
)

// classifyUnique maps a backend uniqueness violation to a store sentinel.
// It returns err unchanged when it is not a uniqueness violation.
func classifyUnique(err error) error {
	switch {
	case shared.IsSQLiteUniqueError(err):
		if strings.Contains(shared.SQLiteUniqueColumns(err), "operation_ref") {
			return ErrOperationUsed
		}
		return ErrSlotTaken
	case shared.IsPostgresUniqueError(err):
		if shared.PostgresConstraint(err) == operationIndex {
			return ErrOperationUsed
		}
		return ErrSlotTaken
	}
	return err
}

// nullableRef turns an empty operation reference into a NULL column value.
func nullableRef(ref string) any {
	if ref == "" {
		return nil
	}
	return ref
}
