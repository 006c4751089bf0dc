package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore implements Repository on Postgres through sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
			id BIGSERIAL PRIMARY KEY,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			court_id INTEGER NOT NULL,
			client_name TEXT NOT NULL,
			client_phone TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'confirmada',
			operation_ref TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + slotIndex + `
			ON reservations(date, time, court_id) WHERE status <> 'cancelada'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + operationIndex + `
			ON reservations(operation_ref) WHERE status <> 'cancelada' AND operation_ref IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_phone ON reservations(client_phone)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			user_id TEXT PRIMARY KEY,
			awaiting_proof BOOLEAN NOT NULL DEFAULT FALSE,
			pending_json TEXT,
			confirmed_phone TEXT NOT NULL DEFAULT '',
			confirmed_name TEXT NOT NULL DEFAULT '',
			history_json TEXT NOT NULL DEFAULT '[]',
			awaiting_since TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type reservationRow struct {
	ID           int64          `db:"id"`
	Date         string         `db:"date"`
	Time         string         `db:"time"`
	CourtID      int            `db:"court_id"`
	ClientName   string         `db:"client_name"`
	ClientPhone  string         `db:"client_phone"`
	Status       string         `db:"status"`
	OperationRef sql.NullString `db:"operation_ref"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r reservationRow) toDomain() domain.Reservation {
	return domain.Reservation{
		ID:           r.ID,
		Date:         r.Date,
		Time:         r.Time,
		CourtID:      r.CourtID,
		ClientName:   r.ClientName,
		ClientPhone:  r.ClientPhone,
		Status:       domain.ReservationStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		OperationRef: r.OperationRef.String,
	}
}

func toReservations(rows []reservationRow) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// ReservationsForDate returns every reservation on date, any status.
func (s *PostgresStore) ReservationsForDate(ctx context.Context, date string) ([]domain.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE date = $1 ORDER BY time, court_id, id`
	if err := s.db.SelectContext(ctx, &rows, query, date); err != nil {
		return nil, fmt.Errorf("query reservations for %s: %w", date, err)
	}
	return toReservations(rows), nil
}

// ReservationsByPhone returns active reservations for phone.
func (s *PostgresStore) ReservationsByPhone(ctx context.Context, phone string) ([]domain.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE client_phone = $1 AND status <> $2 ORDER BY date, time, court_id`
	if err := s.db.SelectContext(ctx, &rows, query, phone, string(domain.StatusCancelled)); err != nil {
		return nil, fmt.Errorf("query reservations by phone: %w", err)
	}
	return toReservations(rows), nil
}

// ReservationByID returns a reservation by id, or nil when absent.
func (s *PostgresStore) ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	var row reservationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %d: %w", id, err)
	}
	r := row.toDomain()
	return &r, nil
}

// CreateReservation inserts a confirmed reservation.
func (s *PostgresStore) CreateReservation(ctx context.Context, draft domain.Draft, operationRef string, createdAt time.Time) (*domain.Reservation, error) {
	query := `
	INSERT INTO reservations (date, time, court_id, client_name, client_phone, status, operation_ref, created_at)
	VALUES (:date, :time, :court_id, :client_name, :client_phone, :status, :operation_ref, :created_at)
	RETURNING id`

	row := reservationRow{
		Date:         draft.Date,
		Time:         draft.Time,
		CourtID:      draft.CourtID,
		ClientName:   draft.Name,
		ClientPhone:  draft.Phone,
		Status:       string(domain.StatusConfirmed),
		OperationRef: sql.NullString{String: operationRef, Valid: operationRef != ""},
		CreatedAt:    createdAt,
	}

	rows, err := s.db.NamedQueryContext(ctx, query, row)
	if err != nil {
		if classified := classifyUnique(err); classified != err {
			return nil, classified
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			if classified := classifyUnique(err); classified != err {
				return nil, classified
			}
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		return nil, fmt.Errorf("insert reservation: no id returned")
	}
	if err := rows.Scan(&row.ID); err != nil {
		return nil, fmt.Errorf("scan reservation id: %w", err)
	}

	r := row.toDomain()
	return &r, nil
}

// CancelReservation flips an active reservation to cancelled.
func (s *PostgresStore) CancelReservation(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations SET status = $1 WHERE id = $2 AND status <> $1`,
		string(domain.StatusCancelled), id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel reservation %d: %w", id, err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if changed > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("check reservation %d: %w", id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// OperationUsed reports whether an active reservation carries operationRef.
func (s *PostgresStore) OperationUsed(ctx context.Context, operationRef string) (bool, error) {
	if operationRef == "" {
		return false, nil
	}
	var used bool
	err := s.db.GetContext(ctx, &used,
		`SELECT EXISTS(SELECT 1 FROM reservations WHERE operation_ref = $1 AND status <> $2)`,
		operationRef, string(domain.StatusCancelled),
	)
	if err != nil {
		return false, fmt.Errorf("check operation reference: %w", err)
	}
	return used, nil
}

type sessionRow struct {
	UserID         string         `db:"user_id"`
	AwaitingProof  bool           `db:"awaiting_proof"`
	PendingJSON    sql.NullString `db:"pending_json"`
	ConfirmedPhone string         `db:"confirmed_phone"`
	ConfirmedName  string         `db:"confirmed_name"`
	HistoryJSON    string         `db:"history_json"`
	AwaitingSince  sql.NullTime   `db:"awaiting_since"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// GetSession retrieves the session state for a user.
func (s *PostgresStore) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, awaiting_proof, pending_json, confirmed_phone, confirmed_name,
		       history_json, awaiting_since, updated_at
		FROM sessions WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess := &domain.Session{
		UserID:         row.UserID,
		AwaitingProof:  row.AwaitingProof,
		ConfirmedPhone: row.ConfirmedPhone,
		ConfirmedName:  row.ConfirmedName,
		UpdatedAt:      row.UpdatedAt,
	}
	if err := decodeSessionBlobs(sess, row.PendingJSON.String, row.HistoryJSON); err != nil {
		return nil, err
	}
	if row.AwaitingSince.Valid {
		ts := row.AwaitingSince.Time
		sess.AwaitingSince = &ts
	}
	return sess, nil
}

// UpsertSession creates or replaces session state.
func (s *PostgresStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	pending, history, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	var awaitingSince sql.NullTime
	if sess.AwaitingSince != nil {
		awaitingSince = sql.NullTime{Time: *sess.AwaitingSince, Valid: true}
	}
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			user_id, awaiting_proof, pending_json, confirmed_phone, confirmed_name,
			history_json, awaiting_since, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			awaiting_proof = EXCLUDED.awaiting_proof,
			pending_json = EXCLUDED.pending_json,
			confirmed_phone = EXCLUDED.confirmed_phone,
			confirmed_name = EXCLUDED.confirmed_name,
			history_json = EXCLUDED.history_json,
			awaiting_since = EXCLUDED.awaiting_since,
			updated_at = EXCLUDED.updated_at`,
		sess.UserID, sess.AwaitingProof, pending,
		sess.ConfirmedPhone, sess.ConfirmedName,
		history, awaitingSince, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ExpiredAwaitingSessions lists users awaiting proof since before the cutoff.
func (s *PostgresStore) ExpiredAwaitingSessions(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM sessions WHERE awaiting_proof AND awaiting_since < $1`, before)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	return ids, nil
}
