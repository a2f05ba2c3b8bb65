package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beatgate/beatgate/internal/app/domain/chat"
	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/app/domain/settlement"
	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/internal/payment"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	challenges  map[string]payment.Challenge
	settlements map[string][]settlement.Record
	stations    map[string]station.Station
	tracks      map[string]station.Track
	queues      map[string][]string // stationID -> ordered track IDs
	sessions    map[string]session.Session
	messages    map[string][]chat.Message
}

var _ storage.ChallengeStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.StationStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		challenges:  make(map[string]payment.Challenge),
		settlements: make(map[string][]settlement.Record),
		stations:    make(map[string]station.Station),
		tracks:      make(map[string]station.Track),
		queues:      make(map[string][]string),
		sessions:    make(map[string]session.Session),
		messages:    make(map[string][]chat.Message),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ChallengeStore implementation ----------------------------------------------

func (s *Store) CreateChallenge(_ context.Context, ch payment.Challenge) (payment.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.ID == "" {
		ch.ID = s.nextIDLocked()
	} else if _, exists := s.challenges[ch.ID]; exists {
		return payment.Challenge{}, fmt.Errorf("challenge %s already exists", ch.ID)
	}

	if ch.Status == "" {
		ch.Status = payment.StatusPending
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	s.challenges[ch.ID] = ch
	return ch, nil
}

func (s *Store) GetChallenge(_ context.Context, id string) (payment.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.challenges[id]
	if !ok {
		return payment.Challenge{}, storage.ErrNotFound
	}
	return ch, nil
}

func (s *Store) ListChallenges(_ context.Context, status string) ([]payment.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Challenge
	for _, ch := range s.challenges {
		if status == "" || ch.Status == status {
			result = append(result, ch)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) MarkChallengeSettled(_ context.Context, id, txHash string, settledAt time.Time) (payment.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return payment.Challenge{}, storage.ErrNotFound
	}
	if ch.Status != payment.StatusPending {
		return ch, storage.ErrChallengeSettled
	}

	ch.Status = payment.StatusSettled
	ch.TxHash = txHash
	ch.SettledAt = settledAt.UTC()
	s.challenges[id] = ch
	return ch, nil
}

func (s *Store) ConsumeChallenge(_ context.Context, id string) (payment.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok || ch.Status != payment.StatusSettled {
		return payment.Challenge{}, storage.ErrNotFound
	}
	if ch.Consumed {
		return ch, storage.ErrChallengeConsumed
	}

	ch.Consumed = true
	s.challenges[id] = ch
	return ch, nil
}

func (s *Store) DeleteExpiredChallenges(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ch := range s.challenges {
		if ch.Status == payment.StatusPending && ch.Expired(now) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}

// SettlementStore implementation ---------------------------------------------

func (s *Store) RecordSettlement(_ context.Context, rec settlement.Record) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.settlements[rec.ChallengeID] = append(s.settlements[rec.ChallengeID], rec)
	return rec, nil
}

func (s *Store) ListSettlements(_ context.Context, challengeID string) ([]settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.settlements[challengeID]
	out := make([]settlement.Record, len(records))
	copy(out, records)
	return out, nil
}

// StationStore implementation ------------------------------------------------

func (s *Store) CreateStation(_ context.Context, st station.Station) (station.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = s.nextIDLocked()
	} else if _, exists := s.stations[st.ID]; exists {
		return station.Station{}, fmt.Errorf("station %s already exists", st.ID)
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.stations[st.ID] = st
	return st, nil
}

func (s *Store) UpdateStation(_ context.Context, st station.Station) (station.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.stations[st.ID]
	if !ok {
		return station.Station{}, storage.ErrNotFound
	}

	st.CreatedAt = original.CreatedAt
	st.UpdatedAt = time.Now().UTC()
	s.stations[st.ID] = st
	return st, nil
}

func (s *Store) GetStation(_ context.Context, id string) (station.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stations[id]
	if !ok {
		return station.Station{}, storage.ErrNotFound
	}
	return st, nil
}

func (s *Store) ListStations(_ context.Context) ([]station.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]station.Station, 0, len(s.stations))
	for _, st := range s.stations {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) EnqueueTrack(_ context.Context, tr station.Track) (station.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stations[tr.StationID]; !ok {
		return station.Track{}, storage.ErrNotFound
	}
	if tr.ID == "" {
		tr.ID = s.nextIDLocked()
	}

	now := time.Now().UTC()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	if tr.Status == "" {
		tr.Status = station.TrackQueued
	}

	s.tracks[tr.ID] = tr
	s.queues[tr.StationID] = append(s.queues[tr.StationID], tr.ID)
	return tr, nil
}

func (s *Store) UpdateTrack(_ context.Context, tr station.Track) (station.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tracks[tr.ID]
	if !ok {
		return station.Track{}, storage.ErrNotFound
	}

	tr.StationID = original.StationID
	tr.CreatedAt = original.CreatedAt
	tr.UpdatedAt = time.Now().UTC()
	s.tracks[tr.ID] = tr
	return tr, nil
}

func (s *Store) GetTrack(_ context.Context, id string) (station.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.tracks[id]
	if !ok {
		return station.Track{}, storage.ErrNotFound
	}
	return tr, nil
}

func (s *Store) ListQueue(_ context.Context, stationID string) ([]station.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.queues[stationID]
	result := make([]station.Track, 0, len(ids))
	for _, id := range ids {
		if tr, ok := s.tracks[id]; ok {
			result = append(result, tr)
		}
	}
	return result, nil
}

// SessionStore implementation ------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// ChatStore implementation -----------------------------------------------------

func (s *Store) AppendMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.nextIDLocked()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.StationID] = append(s.messages[msg.StationID], msg)
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, stationID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[stationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
