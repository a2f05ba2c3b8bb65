// Package payments manages the payment challenge lifecycle: issuance,
// confirmation through the settlement orchestrator, and expiry sweeping.
package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beatgate/beatgate/internal/app/domain/settlement"
	"github.com/beatgate/beatgate/internal/app/metrics"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Settler runs the settlement state machine for a confirmed authorization.
type Settler interface {
	Settle(ctx context.Context, params payment.SettleParams) payment.SettlementResult
}

// Config holds the pricing terms stamped onto every issued challenge.
type Config struct {
	PayTo         string
	AmountAtomic  string
	Asset         string
	TokenAddress  string
	Chain         string
	ChainID       int64
	ChallengeTTL  time.Duration
	SkewTolerance time.Duration
	Strategy      payment.Strategy
}

// Service issues and confirms payment challenges.
type Service struct {
	cfg         Config
	challenges  storage.ChallengeStore
	settlements storage.SettlementStore
	settler     Settler
	log         *logger.Logger

	mu       sync.Mutex
	inflight map[string]*challengeLock
}

// New constructs a payments service.
func New(cfg Config, challenges storage.ChallengeStore, settlements storage.SettlementStore, settler Settler, log *logger.Logger) (*Service, error) {
	if cfg.PayTo == "" {
		return nil, fmt.Errorf("pay_to address is required")
	}
	if cfg.AmountAtomic == "" {
		return nil, fmt.Errorf("amount_atomic is required")
	}
	if challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if settler == nil {
		return nil, fmt.Errorf("settler is required")
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 2 * time.Minute
	}
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = 30 * time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = payment.StrategyFacilitator
	}
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		cfg:         cfg,
		challenges:  challenges,
		settlements: settlements,
		settler:     settler,
		log:         log,
		inflight:    make(map[string]*challengeLock),
	}, nil
}

// IssueChallenge creates and persists a PENDING challenge priced at the
// configured terms.
func (s *Service) IssueChallenge(ctx context.Context) (payment.Challenge, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return payment.Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now().UTC()
	ch := payment.Challenge{
		ID:           uuid.NewString(),
		PayTo:        s.cfg.PayTo,
		AmountAtomic: s.cfg.AmountAtomic,
		Asset:        s.cfg.Asset,
		TokenAddress: s.cfg.TokenAddress,
		Chain:        s.cfg.Chain,
		ChainID:      s.cfg.ChainID,
		Nonce:        "0x" + hex.EncodeToString(nonce),
		ExpiresAt:    now.Add(s.cfg.ChallengeTTL),
		Status:       payment.StatusPending,
		CreatedAt:    now,
	}

	ch, err := s.challenges.CreateChallenge(ctx, ch)
	if err != nil {
		return payment.Challenge{}, fmt.Errorf("persist challenge: %w", err)
	}

	metrics.RecordChallengeIssued()
	s.log.WithField("challenge_id", ch.ID).
		WithField("amount_atomic", ch.AmountAtomic).
		Info("challenge issued")
	return ch, nil
}

// GetChallenge loads a challenge by ID.
func (s *Service) GetChallenge(ctx context.Context, id string) (payment.Challenge, error) {
	return s.challenges.GetChallenge(ctx, id)
}

// ListChallenges lists challenges, optionally filtered by status.
func (s *Service) ListChallenges(ctx context.Context, status string) ([]payment.Challenge, error) {
	return s.challenges.ListChallenges(ctx, status)
}

// ListSettlements lists settlement attempt records for a challenge.
func (s *Service) ListSettlements(ctx context.Context, challengeID string) ([]settlement.Record, error) {
	if s.settlements == nil {
		return nil, nil
	}
	return s.settlements.ListSettlements(ctx, challengeID)
}

// Confirm validates the binding message and authorization against the
// challenge, runs settlement, and transitions the challenge to SETTLED.
// Validation and settlement failures surface in the SettlementResult; the
// error return is reserved for missing challenges and storage faults.
func (s *Service) Confirm(ctx context.Context, challengeID string, auth payment.Authorization, bindingMessage string) (payment.SettlementResult, error) {
	unlock := s.lockChallenge(challengeID)
	defer unlock()

	ch, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return payment.SettlementResult{}, err
	}

	// A repeated confirm of a settled challenge converges on the stored
	// outcome instead of settling twice.
	if ch.Status == payment.StatusSettled {
		return payment.SettlementResult{OK: true, TxHash: ch.TxHash}, nil
	}

	now := time.Now()
	if ch.Expired(now) {
		return invalid("Challenge expired"), nil
	}

	if bindingMessage != "" {
		if _, err := payment.ValidateBindingMessageAt(bindingMessage, ch.ID, s.cfg.SkewTolerance, now); err != nil {
			return invalid(err.Error()), nil
		}
	}

	auth, err = payment.NormalizeAuthorization(auth)
	if err != nil {
		return invalid(err.Error()), nil
	}
	if err := payment.AssertAuthorizationShape(auth); err != nil {
		return invalid(err.Error()), nil
	}

	start := time.Now()
	result := s.settler.Settle(ctx, payment.SettleParams{
		Strategy:      s.cfg.Strategy,
		Challenge:     ch,
		Authorization: auth,
	})
	outcome := "ok"
	if !result.OK {
		outcome = result.Code
	}
	metrics.RecordSettlement(string(s.cfg.Strategy), outcome, time.Since(start))
	s.record(ctx, ch.ID, result)

	if !result.OK {
		return result, nil
	}

	stored, err := s.challenges.MarkChallengeSettled(ctx, ch.ID, result.TxHash, time.Now())
	if errors.Is(err, storage.ErrChallengeSettled) {
		// Lost a cross-process race; converge on the winner's hash.
		return payment.SettlementResult{OK: true, TxHash: stored.TxHash}, nil
	}
	if err != nil {
		return payment.SettlementResult{}, fmt.Errorf("mark challenge settled: %w", err)
	}

	s.log.WithField("challenge_id", ch.ID).
		WithField("tx_hash", result.TxHash).
		Info("challenge settled")
	return result, nil
}

// SweepExpired removes expired PENDING challenges.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.challenges.DeleteExpiredChallenges(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges: %w", err)
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("swept expired challenges")
	}
	return removed, nil
}

func (s *Service) record(ctx context.Context, challengeID string, result payment.SettlementResult) {
	if s.settlements == nil {
		return
	}
	_, err := s.settlements.RecordSettlement(ctx, settlement.Record{
		ChallengeID: challengeID,
		Strategy:    string(s.cfg.Strategy),
		OK:          result.OK,
		TxHash:      result.TxHash,
		Code:        result.Code,
		Message:     result.Message,
	})
	if err != nil {
		s.log.WithError(err).WithField("challenge_id", challengeID).Warn("record settlement")
	}
}

type challengeLock struct {
	sync.Mutex
	refs int
}

// lockChallenge serializes in-process confirms per challenge so concurrent
// requests cannot both reach the settlement path.
func (s *Service) lockChallenge(id string) func() {
	s.mu.Lock()
	lock, ok := s.inflight[id]
	if !ok {
		lock = &challengeLock{}
		s.inflight[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.inflight, id)
		}
		s.mu.Unlock()
	}
}

func invalid(message string) payment.SettlementResult {
	return payment.SettlementResult{OK: false, Code: payment.CodeValidationError, Message: message}
}
