// Package storage defines the persistence interfaces consumed by the
// application services. Implementations live in the memory, postgres and
// redisstore subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/app/domain/settlement"
	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/payment"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrChallengeSettled is returned by MarkChallengeSettled when the challenge
// already left PENDING. The store also returns the stored row so a losing
// confirm can converge on the winner's result.
var ErrChallengeSettled = errors.New("challenge already settled")

// ErrChallengeConsumed is returned when a settled challenge has already been
// spent on a generation request.
var ErrChallengeConsumed = errors.New("challenge already consumed")

// ChallengeStore persists payment challenges.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, ch payment.Challenge) (payment.Challenge, error)
	GetChallenge(ctx context.Context, id string) (payment.Challenge, error)
	ListChallenges(ctx context.Context, status string) ([]payment.Challenge, error)

	// MarkChallengeSettled performs the PENDING -> SETTLED transition. On a
	// lost race it returns the stored row alongside ErrChallengeSettled.
	MarkChallengeSettled(ctx context.Context, id, txHash string, settledAt time.Time) (payment.Challenge, error)

	// ConsumeChallenge spends a settled challenge on a generation request.
	// Fails with ErrChallengeConsumed when already spent, ErrNotFound when
	// missing or not settled.
	ConsumeChallenge(ctx context.Context, id string) (payment.Challenge, error)

	// DeleteExpiredChallenges removes PENDING challenges whose expiry has
	// passed and reports how many were removed.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)
}

// SettlementStore persists settlement attempt records.
type SettlementStore interface {
	RecordSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error)
	ListSettlements(ctx context.Context, challengeID string) ([]settlement.Record, error)
}

// StationStore persists stations and their track queues.
type StationStore interface {
	CreateStation(ctx context.Context, st station.Station) (station.Station, error)
	UpdateStation(ctx context.Context, st station.Station) (station.Station, error)
	GetStation(ctx context.Context, id string) (station.Station, error)
	ListStations(ctx context.Context) ([]station.Station, error)

	EnqueueTrack(ctx context.Context, tr station.Track) (station.Track, error)
	UpdateTrack(ctx context.Context, tr station.Track) (station.Track, error)
	GetTrack(ctx context.Context, id string) (station.Track, error)
	ListQueue(ctx context.Context, stationID string) ([]station.Track, error)
}

// SessionStore persists listener sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// ChatStore persists chat messages per station room.
type ChatStore interface {
	AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	ListMessages(ctx context.Context, stationID string, limit int) ([]chat.Message, error)
}
