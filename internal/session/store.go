// Package session loads and saves per-user conversation state, applying the
// awaiting-proof timeout on every read.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/store"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout      = 60 * time.Minute
	DefaultHistoryLimit = 20
)

// Options configures a Store.
type Options struct {
	Timeout      time.Duration
	HistoryLimit int
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
}

// Store is the session store used by the booking orchestrator.
type Store struct {
	repo         store.SessionRepository
	timeout      time.Duration
	historyLimit int
	now          func() time.Time
}

// NewStore wraps repo.
func NewStore(repo store.SessionRepository, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		repo:         repo,
		timeout:      opts.Timeout,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}
}

// Timeout returns the awaiting-proof timeout.
func (s *Store) Timeout() time.Duration { return s.timeout }

// Get returns the user's session, or a fresh default one. An expired
// awaiting-proof session is reset and persisted before being returned.
func (s *Store) Get(ctx context.Context, userID string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", userID, err)
	}
	if sess == nil {
		return domain.NewSession(userID), nil
	}

	if sess.Expired(s.now(), s.timeout) {
		slog.Info("awaiting-proof session expired, resetting",
			"user_id", userID,
			"awaiting_since", sess.AwaitingSince,
			"pending", len(sess.Pending))
		sess.ResetAwaiting()
		if err := s.Set(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Set trims history and persists the session with a fresh updated-at.
func (s *Store) Set(ctx context.Context, sess *domain.Session) error {
	sess.TrimHistory(s.historyLimit)
	sess.UpdatedAt = s.now()
	if err := s.repo.UpsertSession(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

// Sweep resets every session whose awaiting-proof window has elapsed and
// returns how many were reset.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)
	ids, err := s.repo.ExpiredAwaitingSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	reset := 0
	for _, id := range ids {
		if _, err := s.Get(ctx, id); err != nil {
			slog.Warn("session sweep failed to reset session", "user_id", id, "error", err)
			continue
		}
		reset++
	}
	return reset, nil
}
