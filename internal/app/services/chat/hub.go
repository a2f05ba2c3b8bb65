package chat

import (
	"sync"

	"github.com/gorilla/websocket"

	chatdomain "github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/pkg/logger"
)

// sendBuffer bounds the per-subscriber outbound queue. A subscriber that
// falls this far behind is dropped rather than blocking the room.
const sendBuffer = 16

// Hub fans chat messages out to WebSocket subscribers per station room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	log   *logger.Logger
}

// Subscriber is one room member. All frames for its connection flow through
// the send queue and are written by a single goroutine; gorilla/websocket
// allows at most one concurrent writer per connection.
type Subscriber struct {
	hub       *Hub
	stationID string
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("chat-hub")
	}
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log,
	}
}

// Join subscribes a connection to a station room and starts its writer.
func (h *Hub) Join(stationID string, conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		hub:       h,
		stationID: stationID,
		conn:      conn,
		send:      make(chan interface{}, sendBuffer),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	room, ok := h.rooms[stationID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[stationID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop()
	return sub
}

// Leave removes a subscriber from its room and stops its writer. Safe to
// call more than once.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	removed := false
	if room, ok := h.rooms[sub.stationID]; ok {
		if _, in := room[sub]; in {
			delete(room, sub)
			removed = true
			if len(room) == 0 {
				delete(h.rooms, sub.stationID)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		close(sub.done)
	}
}

// Broadcast queues a message for every subscriber of its station room.
func (h *Hub) Broadcast(msg chatdomain.Message) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[msg.StationID]))
	for sub := range h.rooms[msg.StationID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Send(msg)
	}
}

// RoomSize reports the number of live subscribers in a room.
func (h *Hub) RoomSize(stationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[stationID])
}

// Send queues a frame for the subscriber without blocking. A full queue
// means the consumer stopped reading; it is dropped from the room.
func (s *Subscriber) Send(v interface{}) {
	select {
	case s.send <- v:
	case <-s.done:
	default:
		s.hub.log.Debug("drop slow chat subscriber")
		s.hub.Leave(s)
	}
}

// writeLoop is the connection's only writer. It exits when the subscriber
// leaves or a write fails, closing the connection either way.
func (s *Subscriber) writeLoop() {
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case v := <-s.send:
			if err := s.conn.WriteJSON(v); err != nil {
				s.hub.log.WithError(err).Debug("drop dead chat subscriber")
				s.hub.Leave(s)
				return
			}
		case <-s.done:
			return
		}
	}
}
