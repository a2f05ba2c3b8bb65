package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/app/services/generation"
	"github.com/beatgate/beatgate/internal/app/services/payments"
	"github.com/beatgate/beatgate/internal/app/services/stations"
	"github.com/beatgate/beatgate/internal/app/storage/memory"
	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

type okSettler struct{}

func (okSettler) Settle(context.Context, payment.SettleParams) payment.SettlementResult {
	return payment.SettlementResult{OK: true, TxHash: "0xadmin"}
}

func newTestHandler(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logger.Nop()

	paySvc, err := payments.New(payments.Config{
		PayTo:        "0xBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbb",
		AmountAtomic: "150000",
	}, store, store, okSettler{}, log)
	require.NoError(t, err)

	stationSvc := stations.New(store, store, &generation.Mock{}, log)
	return NewHandler("sekrit", Services{Payments: paySvc, Stations: stationSvc}, log), store
}

func doReq(h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTokenAuth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doReq(h, http.MethodGet, "/admin/v1/challenges", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doReq(h, http.MethodGet, "/admin/v1/challenges", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doReq(h, http.MethodGet, "/admin/v1/challenges", "sekrit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEmptyTokenDisablesAPI(t *testing.T) {
	store := memory.New()
	paySvc, err := payments.New(payments.Config{PayTo: "0xbb", AmountAtomic: "1"}, store, store, okSettler{}, logger.Nop())
	require.NoError(t, err)
	h := NewHandler("", Services{Payments: paySvc}, logger.Nop())

	rec := doReq(h, http.MethodGet, "/admin/v1/challenges", "anything", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListChallengesByStatus(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	ch, err := store.CreateChallenge(ctx, payment.Challenge{AmountAtomic: "1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.CreateChallenge(ctx, payment.Challenge{AmountAtomic: "1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.MarkChallengeSettled(ctx, ch.ID, "0xdone", time.Now())
	require.NoError(t, err)

	rec := doReq(h, http.MethodGet, "/admin/v1/challenges?status=SETTLED", "sekrit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Challenges []payment.Challenge `json:"challenges"`
		Count      int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, ch.ID, resp.Challenges[0].ID)
}

func TestStationControl(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	st, err := store.CreateStation(ctx, station.Station{Name: "Night Drive"})
	require.NoError(t, err)

	rec := doReq(h, http.MethodPost, "/admin/v1/stations/"+st.ID+"/live", "sekrit", setLiveRequest{Live: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated station.Station
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.True(t, updated.Live)

	rec = doReq(h, http.MethodPost, "/admin/v1/stations/missing/live", "sekrit", setLiveRequest{Live: true})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdvanceQueue(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	st, err := store.CreateStation(ctx, station.Station{Name: "Lo-fi Loft"})
	require.NoError(t, err)

	tr, err := store.EnqueueTrack(ctx, station.Track{StationID: st.ID, Prompt: "rain", Status: station.TrackReady})
	require.NoError(t, err)

	rec := doReq(h, http.MethodPost, "/admin/v1/stations/"+st.ID+"/advance", "sekrit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated station.Station
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, tr.ID, updated.NowPlaying)
}
