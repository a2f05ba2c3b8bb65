package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/beatgate/beatgate/pkg/logger"
)

// Strategy picks which settlement paths the orchestrator may use.
type Strategy string

const (
	// StrategyFacilitator attempts only facilitator-delegated settlement and
	// never falls back, even on failure.
	StrategyFacilitator Strategy = "facilitator"

	// StrategyLocal attempts only local broadcast. Requires a configured
	// signing key for the receiving party.
	StrategyLocal Strategy = "local"

	// StrategyAuto attempts the facilitator first and falls back to local
	// broadcast on a failed or empty result.
	StrategyAuto Strategy = "auto"
)

// FacilitatorSettler is the slice of the facilitator client the orchestrator
// needs.
type FacilitatorSettler interface {
	Verify(ctx context.Context, in BuildInput) (*VerifyOutcome, error)
	Settle(ctx context.Context, in BuildInput) (*SettleOutcome, error)
}

// LocalBroadcaster submits a transferWithAuthorization transaction on-chain
// using the receiving party's key and returns the transaction hash.
type LocalBroadcaster interface {
	Broadcast(ctx context.Context, challenge Challenge, auth Authorization) (string, error)
}

// Orchestrator sequences facilitator-delegated settlement and the local
// broadcast fallback. It issues at most two sequential outbound calls per
// request and never both concurrently: a local broadcast must not fire once
// facilitator settlement has succeeded, because both would spend the same
// authorization.
type Orchestrator struct {
	facilitator FacilitatorSettler
	local       LocalBroadcaster
	retry       RetryPolicy
	log         *logger.Logger
}

// OrchestratorConfig wires an orchestrator. Either path may be nil; an
// unconfigured path is reported as not attempted.
type OrchestratorConfig struct {
	Facilitator FacilitatorSettler
	Local       LocalBroadcaster
	Retry       RetryPolicy
	Logger      *logger.Logger
}

// NewOrchestrator builds a settlement orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	return &Orchestrator{
		facilitator: cfg.Facilitator,
		local:       cfg.Local,
		retry:       retry,
		log:         log,
	}
}

// SettleParams carries one settlement request. Strategy is explicit so tests
// can exercise every path without mutating global state.
type SettleParams struct {
	Strategy      Strategy
	Challenge     Challenge
	Authorization Authorization
}

// Settle runs the settlement state machine. It never returns a Go error; the
// outcome is always a closed SettlementResult callers can map deterministically
// to a response.
func (o *Orchestrator) Settle(ctx context.Context, params SettleParams) SettlementResult {
	strategy := params.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	var attempted []string

	if strategy == StrategyFacilitator || strategy == StrategyAuto {
		attempted = append(attempted, "facilitator")
		txHash, err := o.settleViaFacilitator(ctx, params)
		if err == nil && txHash != "" {
			return SettlementResult{OK: true, TxHash: txHash}
		}
		if err != nil {
			o.log.WithError(err).Warn("facilitator settlement failed")
		}
		if strategy == StrategyFacilitator {
			return noSettlement(attempted)
		}
	}

	if strategy == StrategyLocal || strategy == StrategyAuto {
		// No external facilitator exists to reject a bad payment on this
		// path, so the pre-flight checks are mandatory.
		if err := preflight(params.Challenge, params.Authorization); err != nil {
			return SettlementResult{OK: false, Code: CodeValidationError, Message: err.Message}
		}
		if o.local == nil {
			o.log.Warn("local settlement requested but no broadcaster is configured")
			return noSettlement(attempted)
		}

		attempted = append(attempted, "local")
		txHash, err := o.local.Broadcast(ctx, params.Challenge, params.Authorization)
		if err != nil {
			if ErrorCode(err) == CodeValidationError || strings.Contains(err.Error(), CodeValidationError) {
				return SettlementResult{OK: false, Code: CodeValidationError, Message: err.Error()}
			}
			return SettlementResult{OK: false, Code: CodeProviderError,
				Message: fmt.Sprintf("local broadcast failed: %v", err)}
		}
		if txHash != "" {
			return SettlementResult{OK: true, TxHash: txHash}
		}
	}

	return noSettlement(attempted)
}

func (o *Orchestrator) settleViaFacilitator(ctx context.Context, params SettleParams) (string, error) {
	if o.facilitator == nil {
		return "", NewError(CodeProviderError, "no facilitator configured", nil)
	}
	in := buildInput(params.Challenge, params.Authorization)

	var verifyOutcome *VerifyOutcome
	err := WithRetry(ctx, o.retry, IsRetryable, func(ctx context.Context) error {
		var opErr error
		verifyOutcome, opErr = o.facilitator.Verify(ctx, in)
		return opErr
	})
	if err != nil {
		return "", err
	}
	if !verifyOutcome.Valid {
		return "", NewError(CodeProviderError,
			fmt.Sprintf("facilitator rejected the payment: %s", verifyOutcome.Reason), nil)
	}

	// Some facilitators settle during verification and already report a hash.
	if verifyOutcome.TxHash != "" {
		return verifyOutcome.TxHash, nil
	}

	var settleOutcome *SettleOutcome
	err = WithRetry(ctx, o.retry, IsRetryable, func(ctx context.Context) error {
		var opErr error
		settleOutcome, opErr = o.facilitator.Settle(ctx, in)
		return opErr
	})
	if err != nil {
		return "", err
	}
	return settleOutcome.TxHash, nil
}

// preflight enforces the cross-field invariants that must hold before any
// local broadcast.
func preflight(challenge Challenge, auth Authorization) *Error {
	if !strings.EqualFold(auth.To, challenge.PayTo) {
		return ValidationError("authorization.to %s does not match challenge pay_to %s", auth.To, challenge.PayTo)
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return ValidationError("authorization amount %q is not an integer", auth.Value)
	}
	required, ok := new(big.Int).SetString(challenge.AmountAtomic, 10)
	if !ok {
		return ValidationError("challenge amount %q is not an integer", challenge.AmountAtomic)
	}
	if value.Cmp(required) < 0 {
		return ValidationError("authorization amount %s is below the required amount %s", auth.Value, challenge.AmountAtomic)
	}
	return nil
}

func buildInput(challenge Challenge, auth Authorization) BuildInput {
	return BuildInput{
		Chain:         challenge.Chain,
		ChainID:       challenge.ChainID,
		TokenAddress:  challenge.TokenAddress,
		Asset:         challenge.Asset,
		PayTo:         challenge.PayTo,
		AmountAtomic:  challenge.AmountAtomic,
		Authorization: auth,
	}
}

func noSettlement(attempted []string) SettlementResult {
	paths := "none"
	if len(attempted) > 0 {
		paths = strings.Join(attempted, ", ")
	}
	return SettlementResult{
		OK:      false,
		Code:    CodeProviderNoSettlement,
		Message: fmt.Sprintf("no settlement path produced a transaction hash (attempted: %s)", paths),
	}
}
