// Package sessions issues and validates listener sessions backed by signed
// JWTs.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Service manages listener sessions.
type Service struct {
	store  storage.SessionStore
	secret []byte
	ttl    time.Duration
	log    *logger.Logger
}

// New constructs a session service. The secret signs session tokens.
func New(store storage.SessionStore, secret string, ttl time.Duration, log *logger.Logger) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	return &Service{store: store, secret: []byte(secret), ttl: ttl, log: log}, nil
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Create opens a session and returns it with a signed bearer token.
func (s *Service) Create(ctx context.Context, wallet, stationID string) (session.Session, string, error) {
	now := time.Now().UTC()
	sess, err := s.store.CreateSession(ctx, session.Session{
		Wallet:    wallet,
		StationID: stationID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return session.Session{}, "", fmt.Errorf("create session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "beatgate",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return session.Session{}, "", fmt.Errorf("sign session token: %w", err)
	}

	s.log.WithField("session_id", sess.ID).Info("session created")
	return sess, signed, nil
}

// Validate parses a bearer token and loads the live session it refers to.
func (s *Service) Validate(ctx context.Context, tokenString string) (session.Session, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid || c.SessionID == "" {
		return session.Session{}, fmt.Errorf("invalid session token")
	}

	sess, err := s.store.GetSession(ctx, c.SessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(time.Now()) {
		return session.Session{}, fmt.Errorf("session expired")
	}
	return sess, nil
}

// Close deletes a session.
func (s *Service) Close(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id)
}

// SweepExpired removes expired session records.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.store.DeleteExpiredSessions(ctx, time.Now())
}
