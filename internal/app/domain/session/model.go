// Package session defines listener session models.
package session

import "time"

// Session is a short-lived listener identity bound to a wallet address.
type Session struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet,omitempty"`
	StationID string    `json:"stationId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
