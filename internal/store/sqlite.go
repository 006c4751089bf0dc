package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN run on every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		court_id INTEGER NOT NULL,
		client_name TEXT NOT NULL,
		client_phone TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'confirmada',
		operation_ref TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_slot
		ON reservations(date, time, court_id) WHERE status <> 'cancelada';
	CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_operation_ref
		ON reservations(operation_ref) WHERE status <> 'cancelada' AND operation_ref IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_reservations_phone ON reservations(client_phone);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		awaiting_proof INTEGER NOT NULL DEFAULT 0,
		pending_json TEXT,
		confirmed_phone TEXT NOT NULL DEFAULT '',
		confirmed_name TEXT NOT NULL DEFAULT '',
		history_json TEXT NOT NULL DEFAULT '[]',
		awaiting_since INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_awaiting ON sessions(awaiting_since) WHERE awaiting_proof = 1;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs a write under the write mutex, retrying with exponential
// backoff while SQLite reports lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms
		slog.Debug("sqlite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
}

const reservationColumns = `id, date, time, court_id, client_name, client_phone, status, operation_ref, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var r domain.Reservation
	var status string
	var opRef sql.NullString
	var createdAt int64

	if err := row.Scan(
		&r.ID, &r.Date, &r.Time, &r.CourtID, &r.ClientName, &r.ClientPhone,
		&status, &opRef, &createdAt,
	); err != nil {
		return nil, err
	}
	r.Status = domain.ReservationStatus(status)
	r.OperationRef = opRef.String
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

func (s *SQLiteStore) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reservation rows", "error", closeErr)
		}
	}()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

// ReservationsForDate returns every reservation on date, any status.
func (s *SQLiteStore) ReservationsForDate(ctx context.Context, date string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE date = ? ORDER BY time, court_id, id`
	return s.queryReservations(ctx, query, date)
}

// ReservationsByPhone returns active reservations for phone.
func (s *SQLiteStore) ReservationsByPhone(ctx context.Context, phone string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE client_phone = ? AND status <> ? ORDER BY date, time, court_id`
	return s.queryReservations(ctx, query, phone, string(domain.StatusCancelled))
}

// ReservationByID returns a reservation by id, or nil when absent.
func (s *SQLiteStore) ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	r, err := scanReservation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	return r, nil
}

// CreateReservation inserts a confirmed reservation.
func (s *SQLiteStore) CreateReservation(ctx context.Context, draft domain.Draft, operationRef string, createdAt time.Time) (*domain.Reservation, error) {
	query := `
	INSERT INTO reservations (date, time, court_id, client_name, client_phone, status, operation_ref, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var id int64
	err := s.withRetry(ctx, "create reservation", func() error {
		res, err := s.db.ExecContext(ctx, query,
			draft.Date, draft.Time, draft.CourtID, draft.Name, draft.Phone,
			string(domain.StatusConfirmed), nullableRef(operationRef), createdAt.Unix(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if classified := classifyUnique(err); classified != err {
			return nil, classified
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	return &domain.Reservation{
		ID:           id,
		Date:         draft.Date,
		Time:         draft.Time,
		CourtID:      draft.CourtID,
		ClientName:   draft.Name,
		ClientPhone:  draft.Phone,
		Status:       domain.StatusConfirmed,
		CreatedAt:    time.Unix(createdAt.Unix(), 0),
		OperationRef: operationRef,
	}, nil
}

// CancelReservation flips an active reservation to cancelled.
func (s *SQLiteStore) CancelReservation(ctx context.Context, id int64) (bool, error) {
	var changed int64
	err := s.withRetry(ctx, "cancel reservation", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE reservations SET status = ? WHERE id = ? AND status <> ?`,
			string(domain.StatusCancelled), id, string(domain.StatusCancelled),
		)
		if err != nil {
			return err
		}
		changed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cancel reservation %d: %w", id, err)
	}
	if changed > 0 {
		return true, nil
	}

	existing, err := s.ReservationByID(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, ErrNotFound
	}
	return false, nil
}

// OperationUsed reports whether an active reservation carries operationRef.
func (s *SQLiteStore) OperationUsed(ctx context.Context, operationRef string) (bool, error) {
	if operationRef == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reservations WHERE operation_ref = ? AND status <> ?`,
		operationRef, string(domain.StatusCancelled),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check operation reference: %w", err)
	}
	return n > 0, nil
}

// GetSession retrieves the session state for a user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	query := `
		SELECT user_id, awaiting_proof, pending_json, confirmed_phone, confirmed_name,
		       history_json, awaiting_since, updated_at
		FROM sessions WHERE user_id = ?`

	var sess domain.Session
	var pendingJSON sql.NullString
	var historyJSON string
	var awaitingSince sql.NullInt64
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sess.UserID, &sess.AwaitingProof, &pendingJSON,
		&sess.ConfirmedPhone, &sess.ConfirmedName,
		&historyJSON, &awaitingSince, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if err := decodeSessionBlobs(&sess, pendingJSON.String, historyJSON); err != nil {
		return nil, err
	}
	if awaitingSince.Valid {
		ts := time.Unix(awaitingSince.Int64, 0)
		sess.AwaitingSince = &ts
	}
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	return &sess, nil
}

// UpsertSession creates or replaces session state.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (
			user_id, awaiting_proof, pending_json, confirmed_phone, confirmed_name,
			history_json, awaiting_since, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			awaiting_proof = excluded.awaiting_proof,
			pending_json = excluded.pending_json,
			confirmed_phone = excluded.confirmed_phone,
			confirmed_name = excluded.confirmed_name,
			history_json = excluded.history_json,
			awaiting_since = excluded.awaiting_since,
			updated_at = excluded.updated_at`

	pendingJSON, historyJSON, err := encodeSessionBlobs(sess)
	if err != nil {
		return err
	}

	var awaitingSince any
	if sess.AwaitingSince != nil {
		awaitingSince = sess.AwaitingSince.Unix()
	}

	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	err = s.withRetry(ctx, "upsert session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.UserID, sess.AwaitingProof, pendingJSON,
			sess.ConfirmedPhone, sess.ConfirmedName,
			historyJSON, awaitingSince, updatedAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ExpiredAwaitingSessions lists users awaiting proof since before the cutoff.
func (s *SQLiteStore) ExpiredAwaitingSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM sessions WHERE awaiting_proof = 1 AND awaiting_since < ?`,
		before.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// encodeSessionBlobs serializes the list fields of a session.
// Pending drafts encode to NULL when there are none.
func encodeSessionBlobs(sess *domain.Session) (pending any, history string, err error) {
	if len(sess.Pending) > 0 {
		b, err := json.Marshal(sess.Pending)
		if err != nil {
			return nil, "", fmt.Errorf("marshal pending reservations: %w", err)
		}
		pending = string(b)
	}

	turns := sess.History
	if turns == nil {
		turns = []domain.Turn{}
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return nil, "", fmt.Errorf("marshal history: %w", err)
	}
	return pending, string(b), nil
}

func decodeSessionBlobs(sess *domain.Session, pendingJSON, historyJSON string) error {
	if pendingJSON != "" {
		if err := json.Unmarshal([]byte(pendingJSON), &sess.Pending); err != nil {
			return fmt.Errorf("unmarshal pending reservations: %w", err)
		}
	}
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
			return fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return nil
}
