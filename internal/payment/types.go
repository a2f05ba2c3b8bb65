// Package payment implements the usage-payment core: canonicalization of
// ERC-3009 transfer authorizations, facilitator wire dialects, retry policy,
// settlement orchestration, the wallet binding message protocol, and the
// client-side EIP-712 authorization signer.
package payment

import "time"

// Challenge statuses. A challenge moves Pending to Settled exactly once.
const (
	StatusPending = "PENDING"
	StatusSettled = "SETTLED"
)

// Challenge is a priced payment request issued to a client. Immutable once
// issued; consumed by exactly one successful settlement.
type Challenge struct {
	ID           string    `json:"challengeId"`
	PayTo        string    `json:"payTo"`
	AmountAtomic string    `json:"amountAtomic"`
	Asset        string    `json:"asset"`        // token symbol, e.g. USDC
	TokenAddress string    `json:"tokenAddress"` // token contract address
	Chain        string    `json:"chain"`        // network name, e.g. base
	ChainID      int64     `json:"chainId"`
	Nonce        string    `json:"nonce"`
	ExpiresAt    time.Time `json:"expiresAt"`

	Status    string    `json:"status,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Consumed  bool      `json:"consumed,omitempty"` // spent on a generation request
	CreatedAt time.Time `json:"createdAt,omitempty"`
	SettledAt time.Time `json:"settledAt,omitempty"`
}

// Expired reports whether the challenge expiry has passed at the given time.
func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Authorization is a signed ERC-3009 transferWithAuthorization payload,
// produced off-system by the payer's signing key. The core normalizes and
// validates it but never alters its meaning.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`     // 0x + 64 hex chars (32 bytes)
	Signature   string `json:"signature"` // 0x + 130 hex chars (65 bytes)
}

// SettlementResult is the closed, two-arm outcome of a settlement attempt.
// There is no partial or indeterminate state.
type SettlementResult struct {
	OK      bool   `json:"ok"`
	TxHash  string `json:"txHash,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
