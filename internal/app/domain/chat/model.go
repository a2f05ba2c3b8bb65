// Package chat defines station chat models.
package chat

import "time"

// Message is a single chat message in a station room.
type Message struct {
	ID        string    `json:"id"`
	StationID string    `json:"stationId"`
	SessionID string    `json:"sessionId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
