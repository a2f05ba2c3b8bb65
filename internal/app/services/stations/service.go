// Package stations manages station state and the paid track queue.
package stations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/app/metrics"
	"github.com/beatgate/beatgate/internal/app/services/generation"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/pkg/logger"
)

// ErrPaymentRequired is returned when a track is submitted without a settled,
// unspent challenge.
var ErrPaymentRequired = errors.New("settled payment challenge required")

// Presence tracks which sessions are currently listening to a station.
type Presence interface {
	Heartbeat(ctx context.Context, stationID, sessionID string) error
	ListenerCount(ctx context.Context, stationID string) (int64, error)
}

// Service manages stations and their queues.
type Service struct {
	stations   storage.StationStore
	challenges storage.ChallengeStore
	generator  generation.Generator
	presence   Presence
	log        *logger.Logger
}

// New constructs a stations service.
func New(stations storage.StationStore, challenges storage.ChallengeStore, generator generation.Generator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stations")
	}
	return &Service{
		stations:   stations,
		challenges: challenges,
		generator:  generator,
		log:        log,
	}
}

// AttachPresence enables listener tracking. Call before serving traffic.
func (s *Service) AttachPresence(p Presence) {
	s.presence = p
}

// Heartbeat records that a session is listening to a station. Without a
// presence backend it is a no-op.
func (s *Service) Heartbeat(ctx context.Context, stationID, sessionID string) error {
	if s.presence == nil {
		return nil
	}
	if _, err := s.stations.GetStation(ctx, stationID); err != nil {
		return err
	}
	return s.presence.Heartbeat(ctx, stationID, sessionID)
}

// ListenerCount reports how many sessions are live on a station. Without a
// presence backend it reports zero.
func (s *Service) ListenerCount(ctx context.Context, stationID string) (int64, error) {
	if s.presence == nil {
		return 0, nil
	}
	return s.presence.ListenerCount(ctx, stationID)
}

// CreateStation registers a new station.
func (s *Service) CreateStation(ctx context.Context, name, genre string) (station.Station, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return station.Station{}, fmt.Errorf("station name is required")
	}
	st, err := s.stations.CreateStation(ctx, station.Station{Name: name, Genre: strings.TrimSpace(genre)})
	if err != nil {
		return station.Station{}, err
	}
	s.log.WithField("station_id", st.ID).WithField("name", st.Name).Info("station created")
	return st, nil
}

// GetStation loads a station.
func (s *Service) GetStation(ctx context.Context, id string) (station.Station, error) {
	return s.stations.GetStation(ctx, id)
}

// ListStations lists all stations.
func (s *Service) ListStations(ctx context.Context) ([]station.Station, error) {
	return s.stations.ListStations(ctx)
}

// SetLive flips a station's live flag.
func (s *Service) SetLive(ctx context.Context, id string, live bool) (station.Station, error) {
	st, err := s.stations.GetStation(ctx, id)
	if err != nil {
		return station.Station{}, err
	}
	st.Live = live
	return s.stations.UpdateStation(ctx, st)
}

// ListQueue returns the station's track queue in submission order.
func (s *Service) ListQueue(ctx context.Context, stationID string) ([]station.Track, error) {
	return s.stations.ListQueue(ctx, stationID)
}

// SubmitTrack spends a settled challenge on a generation request and enqueues
// the resulting track. The challenge is consumed before generation so a
// single payment can never fund two tracks.
func (s *Service) SubmitTrack(ctx context.Context, stationID, challengeID, prompt string) (station.Track, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return station.Track{}, fmt.Errorf("prompt is required")
	}

	st, err := s.stations.GetStation(ctx, stationID)
	if err != nil {
		return station.Track{}, err
	}

	if _, err := s.challenges.ConsumeChallenge(ctx, challengeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrChallengeConsumed) {
			return station.Track{}, fmt.Errorf("%w: %v", ErrPaymentRequired, err)
		}
		return station.Track{}, fmt.Errorf("consume challenge: %w", err)
	}

	tr, err := s.stations.EnqueueTrack(ctx, station.Track{
		StationID:   st.ID,
		ChallengeID: challengeID,
		Prompt:      prompt,
		Status:      station.TrackQueued,
	})
	if err != nil {
		return station.Track{}, fmt.Errorf("enqueue track: %w", err)
	}

	if s.generator != nil {
		tr = s.generate(ctx, st, tr)
	}

	s.log.WithField("track_id", tr.ID).
		WithField("station_id", st.ID).
		WithField("challenge_id", challengeID).
		Info("track submitted")
	return tr, nil
}

func (s *Service) generate(ctx context.Context, st station.Station, tr station.Track) station.Track {
	tr.Status = station.TrackGenerating
	tr, err := s.stations.UpdateTrack(ctx, tr)
	if err != nil {
		s.log.WithError(err).WithField("track_id", tr.ID).Warn("mark track generating")
		return tr
	}

	result, err := s.generator.Generate(ctx, generation.Request{
		TrackID:     tr.ID,
		StationID:   st.ID,
		ChallengeID: tr.ChallengeID,
		Prompt:      tr.Prompt,
		Genre:       st.Genre,
	})
	if err != nil {
		tr.Status = station.TrackFailed
		tr.Error = err.Error()
	} else {
		tr.Status = station.TrackReady
		tr.AudioURL = result.AudioURL
		tr.DurationSec = result.DurationSec
	}

	metrics.RecordTrackGenerated(tr.Status)
	updated, uerr := s.stations.UpdateTrack(ctx, tr)
	if uerr != nil {
		s.log.WithError(uerr).WithField("track_id", tr.ID).Warn("store generation outcome")
		return tr
	}
	return updated
}

// AdvanceQueue marks the current now-playing track as played and promotes the
// next ready track.
func (s *Service) AdvanceQueue(ctx context.Context, stationID string) (station.Station, error) {
	st, err := s.stations.GetStation(ctx, stationID)
	if err != nil {
		return station.Station{}, err
	}

	if st.NowPlaying != "" {
		if tr, err := s.stations.GetTrack(ctx, st.NowPlaying); err == nil {
			tr.Status = station.TrackPlayed
			if _, err := s.stations.UpdateTrack(ctx, tr); err != nil {
				s.log.WithError(err).WithField("track_id", tr.ID).Warn("mark track played")
			}
		}
	}

	queue, err := s.stations.ListQueue(ctx, stationID)
	if err != nil {
		return station.Station{}, err
	}

	st.NowPlaying = ""
	for _, tr := range queue {
		if tr.Status == station.TrackReady {
			st.NowPlaying = tr.ID
			break
		}
	}
	return s.stations.UpdateStation(ctx, st)
}
