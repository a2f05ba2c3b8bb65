// Package chat persists and fans out station chat messages.
package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	chatdomain "github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/pkg/logger"
)

const maxMessageLength = 500

// Service handles chat for station rooms.
type Service struct {
	store    storage.ChatStore
	hub      *Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// New constructs a chat service.
func New(store storage.ChatStore, hub *Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	if hub == nil {
		hub = NewHub(log)
	}
	return &Service{
		store: store,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 10,
			WriteBufferSize: 1 << 10,
			// The public API fronts the browser client; origin policy is
			// enforced by the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Post persists a message and broadcasts it to the room.
func (s *Service) Post(ctx context.Context, stationID, sessionID, author, body string) (chatdomain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chatdomain.Message{}, fmt.Errorf("message body is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return chatdomain.Message{}, fmt.Errorf("message exceeds %d characters", maxMessageLength)
	}
	if author == "" {
		author = "anon"
	}

	msg, err := s.store.AppendMessage(ctx, chatdomain.Message{
		StationID: stationID,
		SessionID: sessionID,
		Author:    author,
		Body:      body,
	})
	if err != nil {
		return chatdomain.Message{}, fmt.Errorf("store message: %w", err)
	}

	s.hub.Broadcast(msg)
	return msg, nil
}

// History returns the most recent messages for a room.
func (s *Service) History(ctx context.Context, stationID string, limit int) ([]chatdomain.Message, error) {
	return s.store.ListMessages(ctx, stationID, limit)
}

// ServeWS upgrades the request and streams room messages until the client
// disconnects. Inbound frames are posted as messages from the given author.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request, stationID, sessionID, author string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sub := s.hub.Join(stationID, conn)
	defer s.hub.Leave(sub)

	for {
		var inbound struct {
			Body string `json:"body"`
		}
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		if _, err := s.Post(r.Context(), stationID, sessionID, author, inbound.Body); err != nil {
			// Error replies share the connection's single writer.
			sub.Send(map[string]string{"error": err.Error()})
		}
	}
}
