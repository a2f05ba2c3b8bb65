// Package redisstore implements session persistence and station presence on
// Redis. Sessions expire via key TTLs, so the periodic sweep is a no-op here.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/app/storage"
)

// Sessions is a Redis-backed SessionStore.
type Sessions struct {
	client *redis.Client
	prefix string
}

var _ storage.SessionStore = (*Sessions)(nil)

// NewSessions creates a session store on the given client.
func NewSessions(client *redis.Client) *Sessions {
	return &Sessions{client: client, prefix: "beatgate:session:"}
}

func (s *Sessions) key(id string) string {
	return s.prefix + id
}

func (s *Sessions) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return session.Session{}, fmt.Errorf("session expiry must be in the future")
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return session.Session{}, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(sess.ID), payload, ttl).Result()
	if err != nil {
		return session.Session{}, fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return session.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}
	return sess, nil
}

func (s *Sessions) GetSession(ctx context.Context, id string) (session.Session, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *Sessions) DeleteSession(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions is satisfied by Redis key TTLs.
func (s *Sessions) DeleteExpiredSessions(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Presence tracks which sessions are currently listening to a station using
// a sorted set of heartbeat timestamps per station.
type Presence struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewPresence creates a presence tracker. Sessions that have not heartbeat
// within the window are not counted.
func NewPresence(client *redis.Client, window time.Duration) *Presence {
	if window <= 0 {
		window = 45 * time.Second
	}
	return &Presence{client: client, prefix: "beatgate:presence:", window: window}
}

func (p *Presence) key(stationID string) string {
	return p.prefix + stationID
}

// Heartbeat records that a session is listening to a station.
func (p *Presence) Heartbeat(ctx context.Context, stationID, sessionID string) error {
	now := time.Now()
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, p.key(stationID), &redis.Z{Score: float64(now.UnixNano()), Member: sessionID})
	pipe.ZRemRangeByScore(ctx, p.key(stationID), "0", fmt.Sprintf("%d", now.Add(-p.window).UnixNano()))
	pipe.Expire(ctx, p.key(stationID), 2*p.window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// ListenerCount returns how many sessions are live on a station.
func (p *Presence) ListenerCount(ctx context.Context, stationID string) (int64, error) {
	cutoff := time.Now().Add(-p.window).UnixNano()
	count, err := p.client.ZCount(ctx, p.key(stationID), fmt.Sprintf("%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count listeners: %w", err)
	}
	return count, nil
}
