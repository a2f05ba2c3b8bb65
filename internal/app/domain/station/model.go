// Package station defines the radio station and track queue models.
package station

import "time"

// Track statuses.
const (
	TrackQueued     = "QUEUED"
	TrackGenerating = "GENERATING"
	TrackReady      = "READY"
	TrackPlayed     = "PLAYED"
	TrackFailed     = "FAILED"
)

// Station is a continuously playing channel that listeners tune into.
type Station struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Genre      string    `json:"genre"`
	Live       bool      `json:"live"`
	NowPlaying string    `json:"nowPlaying,omitempty"` // track ID
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Track is a generated (or pending) piece of music in a station's queue.
type Track struct {
	ID          string    `json:"id"`
	StationID   string    `json:"stationId"`
	ChallengeID string    `json:"challengeId"`
	Prompt      string    `json:"prompt"`
	Status      string    `json:"status"`
	AudioURL    string    `json:"audioUrl,omitempty"`
	DurationSec int       `json:"durationSec,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
