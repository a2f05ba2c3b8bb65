// Package settlement defines the settlement attempt record kept for
// audit and admin inspection.
package settlement

import "time"

// Paths a settlement can take.
const (
	PathFacilitator = "facilitator"
	PathLocal       = "local"
)

// Record captures the outcome of one settlement attempt for a challenge.
type Record struct {
	ID          string    `json:"id"`
	ChallengeID string    `json:"challengeId"`
	Strategy    string    `json:"strategy"`
	OK          bool      `json:"ok"`
	TxHash      string    `json:"txHash,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
