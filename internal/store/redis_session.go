package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "padel:session:"
	awaitingSetKey   = "padel:sessions:awaiting"
)

// RedisSessionStore implements SessionRepository on Redis. Each session is a
// JSON document; users awaiting proof are indexed in a sorted set scored by
// awaiting_since so the sweeper can range over them.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore wraps client. A zero ttl keeps sessions forever.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

type sessionDoc struct {
	UserID         string         `json:"user_id"`
	AwaitingProof  bool           `json:"awaiting_proof"`
	Pending        []domain.Draft `json:"pending_reservations,omitempty"`
	ConfirmedPhone string         `json:"confirmed_phone,omitempty"`
	ConfirmedName  string         `json:"confirmed_name,omitempty"`
	History        []domain.Turn  `json:"conversation_history"`
	AwaitingSince  *time.Time     `json:"awaiting_since,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func newSessionDoc(s *domain.Session) sessionDoc {
	return sessionDoc{
		UserID:         s.UserID,
		AwaitingProof:  s.AwaitingProof,
		Pending:        s.Pending,
		ConfirmedPhone: s.ConfirmedPhone,
		ConfirmedName:  s.ConfirmedName,
		History:        s.History,
		AwaitingSince:  s.AwaitingSince,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (d sessionDoc) session() *domain.Session {
	return &domain.Session{
		UserID:         d.UserID,
		AwaitingProof:  d.AwaitingProof,
		Pending:        d.Pending,
		ConfirmedPhone: d.ConfirmedPhone,
		ConfirmedName:  d.ConfirmedName,
		History:        d.History,
		AwaitingSince:  d.AwaitingSince,
		UpdatedAt:      d.UpdatedAt,
	}
}

// GetSession returns nil, nil when the user has no stored session.
func (s *RedisSessionStore) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", userID, err)
	}

	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", userID, err)
	}
	return doc.session(), nil
}

// UpsertSession writes the session document and maintains the awaiting index.
func (s *RedisSessionStore) UpsertSession(ctx context.Context, sess *domain.Session) error {
	doc := newSessionDoc(sess)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+sess.UserID, b, s.ttl)
		if sess.AwaitingProof && sess.AwaitingSince != nil {
			pipe.ZAdd(ctx, awaitingSetKey, redis.Z{
				Score:  float64(sess.AwaitingSince.Unix()),
				Member: sess.UserID,
			})
		} else {
			pipe.ZRem(ctx, awaitingSetKey, sess.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.UserID, err)
	}
	return nil
}

// ExpiredAwaitingSessions lists users awaiting proof since before the cutoff.
func (s *RedisSessionStore) ExpiredAwaitingSessions(ctx context.Context, before time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, awaitingSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	return ids, nil
}

// Ping verifies Redis connectivity.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
