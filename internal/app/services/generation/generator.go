// Package generation dispatches paid music generation requests to the
// rendering backend.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/beatgate/beatgate/internal/httputil"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Request describes one track to render.
type Request struct {
	TrackID     string `json:"trackId"`
	StationID   string `json:"stationId"`
	ChallengeID string `json:"challengeId"`
	Prompt      string `json:"prompt"`
	Genre       string `json:"genre,omitempty"`
}

// Result is the backend's render outcome.
type Result struct {
	AudioURL    string `json:"audioUrl"`
	DurationSec int    `json:"durationSec"`
}

// Generator renders a track for a settled payment.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// HTTPGenerator calls an external rendering service.
type HTTPGenerator struct {
	client *httputil.Client
	log    *logger.Logger
}

// NewHTTPGenerator creates a generator client for the given endpoint.
func NewHTTPGenerator(baseURL, apiKey string, log *logger.Logger) (*HTTPGenerator, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("generator base URL required")
	}
	if log == nil {
		log = logger.NewDefault("generator")
	}
	return &HTTPGenerator{
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: baseURL, APIKey: apiKey}),
		log:    log,
	}, nil
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	resp, err := g.client.Post(ctx, "/v1/generate", req)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch generation: %w", err)
	}

	var result Result
	if err := httputil.DecodeResponse(resp, &result); err != nil {
		return Result{}, fmt.Errorf("generation failed: %w", err)
	}

	g.log.WithField("track_id", req.TrackID).
		WithField("duration_sec", result.DurationSec).
		Info("track generated")
	return result, nil
}

// Mock returns a canned result without leaving the process. Used in tests and
// local development when no rendering backend is configured.
type Mock struct {
	Result Result
	Err    error
	Calls  []Request
}

func (m *Mock) Generate(_ context.Context, req Request) (Result, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return Result{}, m.Err
	}
	if m.Result.AudioURL == "" {
		return Result{AudioURL: "mock://" + req.TrackID, DurationSec: 180}, nil
	}
	return m.Result, nil
}
