package domain

import (
	"time"
)

// Conversation roles stored in a session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single role-tagged conversation entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds the per-user negotiation state between turns.
type Session struct {
	UserID         string
	AwaitingProof  bool
	Pending        []Draft
	ConfirmedPhone string
	ConfirmedName  string
	AwaitingSince  *time.Time
	History        []Turn
	UpdatedAt      time.Time
}

// NewSession returns the default state for a user seen for the first time.
func NewSession(userID string) *Session {
	return &Session{UserID: userID}
}

// BeginAwaiting moves the session into the awaiting-proof state for drafts.
func (s *Session) BeginAwaiting(drafts []Draft, now time.Time) {
	pending := make([]Draft, len(drafts))
	copy(pending, drafts)

	s.AwaitingProof = true
	s.Pending = pending
	s.AwaitingSince = &now
	s.History = nil
}

// ResetAwaiting returns the session to normal conversation, dropping pending drafts.
func (s *Session) ResetAwaiting() {
	s.AwaitingProof = false
	s.Pending = nil
	s.AwaitingSince = nil
}

// Expired reports whether the awaiting-proof window has elapsed at now.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if !s.AwaitingProof || s.AwaitingSince == nil {
		return false
	}
	return now.Sub(*s.AwaitingSince) > timeout
}

// Append adds turns to the history.
func (s *Session) Append(turns ...Turn) {
	s.History = append(s.History, turns...)
}

// TrimHistory keeps only the most recent limit turns.
func (s *Session) TrimHistory(limit int) {
	if limit <= 0 || len(s.History) <= limit {
		return
	}
	trimmed := make([]Turn, limit)
	copy(trimmed, s.History[len(s.History)-limit:])
	s.History = trimmed
}

// RememberIdentity records the user's phone and name the first time they are seen.
func (s *Session) RememberIdentity(name, phone string) {
	if s.ConfirmedPhone == "" && phone != "" {
		s.ConfirmedPhone = phone
	}
	if s.ConfirmedName == "" && name != "" {
		s.ConfirmedName = name
	}
}
