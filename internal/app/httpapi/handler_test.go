package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beatgate/beatgate/internal/app/domain/station"
	"github.com/beatgate/beatgate/internal/app/services/chat"
	"github.com/beatgate/beatgate/internal/app/services/generation"
	"github.com/beatgate/beatgate/internal/app/services/payments"
	"github.com/beatgate/beatgate/internal/app/services/sessions"
	"github.com/beatgate/beatgate/internal/app/services/stations"
	"github.com/beatgate/beatgate/internal/app/storage/memory"
	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

type staticSettler struct {
	result payment.SettlementResult
}

func (s staticSettler) Settle(context.Context, payment.SettleParams) payment.SettlementResult {
	return s.result
}

type env struct {
	handler http.Handler
	store   *memory.Store
	mock    *generation.Mock
}

func newEnv(t *testing.T, settler payments.Settler) *env {
	t.Helper()
	store := memory.New()
	log := logger.Nop()

	paySvc, err := payments.New(payments.Config{
		PayTo:        "0xBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbb",
		AmountAtomic: "150000",
		Asset:        "USDC",
		TokenAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		Chain:        "base",
		ChainID:      8453,
	}, store, store, settler, log)
	require.NoError(t, err)

	sessSvc, err := sessions.New(store, "test-secret", time.Hour, log)
	require.NoError(t, err)

	mock := &generation.Mock{Result: generation.Result{AudioURL: "https://cdn.example.com/track.mp3", DurationSec: 92}}
	stationSvc := stations.New(store, store, mock, log)
	chatSvc := chat.New(store, chat.NewHub(log), log)

	handler := NewHandler(Services{
		Payments: paySvc,
		Stations: stationSvc,
		Sessions: sessSvc,
		Chat:     chatSvc,
	}, Options{AllowedOrigins: []string{"*"}, RatePerSecond: 1000, RateBurst: 1000})

	return &env{handler: handler, store: store, mock: mock}
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func (e *env) sessionToken(t *testing.T) string {
	rec := e.do(t, http.MethodPost, "/v1/sessions", "", map[string]string{
		"wallet": "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (e *env) settledChallenge(t *testing.T) payment.Challenge {
	t.Helper()
	ctx := context.Background()
	ch, err := e.store.CreateChallenge(ctx, payment.Challenge{
		AmountAtomic: "150000",
		ExpiresAt:    time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	ch, err = e.store.MarkChallengeSettled(ctx, ch.ID, "0xsettled", time.Now())
	require.NoError(t, err)
	return ch
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueAndFetchChallenge(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})

	rec := e.do(t, http.MethodPost, "/v1/challenges", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ch payment.Challenge
	decodeBody(t, rec, &ch)
	require.NotEmpty(t, ch.ID)
	require.Equal(t, "150000", ch.AmountAtomic)
	require.Equal(t, payment.StatusPending, ch.Status)

	rec = e.do(t, http.MethodGet, "/v1/challenges/"+ch.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/challenges/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmChallenge(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true, TxHash: "0xdeadbeef"}})

	rec := e.do(t, http.MethodPost, "/v1/challenges", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ch payment.Challenge
	decodeBody(t, rec, &ch)

	key, err := payment.ParsePrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	auth, err := payment.SignAuthorization(payment.SignerConfig{
		TokenName:    "USD Coin",
		TokenVersion: "2",
		ChainID:      ch.ChainID,
		TokenAddress: ch.TokenAddress,
		PrivateKey:   key,
	}, map[string]interface{}{
		"payTo":        ch.PayTo,
		"amountAtomic": ch.AmountAtomic,
		"expiresAt":    ch.ExpiresAt.Format(time.RFC3339),
	})
	require.NoError(t, err)

	binding, err := payment.BuildBindingMessage(ch.ID, time.Now().Unix(), 120, "")
	require.NoError(t, err)

	rec = e.do(t, http.MethodPost, "/v1/challenges/"+ch.ID+"/confirm", "", confirmRequest{
		Authorization:  auth,
		BindingMessage: binding,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result payment.SettlementResult
	decodeBody(t, rec, &result)
	require.True(t, result.OK)
	require.Equal(t, "0xdeadbeef", result.TxHash)
}

func TestConfirmChallengeValidationFailure(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})

	rec := e.do(t, http.MethodPost, "/v1/challenges", "", nil)
	var ch payment.Challenge
	decodeBody(t, rec, &ch)

	// Empty authorization fails shape validation before any settlement.
	rec = e.do(t, http.MethodPost, "/v1/challenges/"+ch.ID+"/confirm", "", confirmRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result payment.SettlementResult
	decodeBody(t, rec, &result)
	require.False(t, result.OK)
	require.Equal(t, payment.CodeValidationError, result.Code)
}

func TestConfirmChallengeProviderFailure(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{
		OK:      false,
		Code:    payment.CodeProviderNoSettlement,
		Message: "no settlement path yielded a transaction",
	}})

	rec := e.do(t, http.MethodPost, "/v1/challenges", "", nil)
	var ch payment.Challenge
	decodeBody(t, rec, &ch)

	key, err := payment.ParsePrivateKey("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	auth, err := payment.SignAuthorization(payment.SignerConfig{
		TokenName:    "USD Coin",
		TokenVersion: "2",
		ChainID:      ch.ChainID,
		TokenAddress: ch.TokenAddress,
		PrivateKey:   key,
	}, map[string]interface{}{
		"payTo":        ch.PayTo,
		"amountAtomic": ch.AmountAtomic,
		"expiresAt":    ch.ExpiresAt.Format(time.RFC3339),
	})
	require.NoError(t, err)

	rec = e.do(t, http.MethodPost, "/v1/challenges/"+ch.ID+"/confirm", "", confirmRequest{Authorization: auth})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGenerateRequiresSession(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	rec := e.do(t, http.MethodPost, "/v1/generate", "", generateRequest{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateRequiresSettledChallenge(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	token := e.sessionToken(t)

	rec := e.do(t, http.MethodPost, "/v1/stations", "", createStationRequest{Name: "Night Drive", Genre: "synthwave"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var st station.Station
	decodeBody(t, rec, &st)

	rec = e.do(t, http.MethodPost, "/v1/generate", token, generateRequest{
		StationID:   st.ID,
		ChallengeID: "missing",
		Prompt:      "late night city driving",
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestGenerateSpendsChallenge(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	token := e.sessionToken(t)

	rec := e.do(t, http.MethodPost, "/v1/stations", "", createStationRequest{Name: "Night Drive", Genre: "synthwave"})
	var st station.Station
	decodeBody(t, rec, &st)

	ch := e.settledChallenge(t)
	body := generateRequest{StationID: st.ID, ChallengeID: ch.ID, Prompt: "late night city driving"}

	rec = e.do(t, http.MethodPost, "/v1/generate", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var track station.Track
	decodeBody(t, rec, &track)
	require.Equal(t, station.TrackReady, track.Status)
	require.Equal(t, "https://cdn.example.com/track.mp3", track.AudioURL)

	// The same challenge cannot fund a second track.
	rec = e.do(t, http.MethodPost, "/v1/generate", token, body)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = e.do(t, http.MethodGet, fmt.Sprintf("/v1/stations/%s/queue", st.ID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []station.Track
	decodeBody(t, rec, &queue)
	require.Len(t, queue, 1)
}

func TestChatPostAndHistory(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	token := e.sessionToken(t)

	rec := e.do(t, http.MethodPost, "/v1/stations", "", createStationRequest{Name: "Lo-fi Loft"})
	var st station.Station
	decodeBody(t, rec, &st)

	rec = e.do(t, http.MethodPost, "/v1/stations/"+st.ID+"/chat", token, postChatRequest{Author: "dj", Body: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Posting without a session is rejected.
	rec = e.do(t, http.MethodPost, "/v1/stations/"+st.ID+"/chat", "", postChatRequest{Body: "anon spam"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/v1/stations/"+st.ID+"/chat", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []struct {
		Author string `json:"author"`
		Body   string `json:"body"`
	}
	decodeBody(t, rec, &msgs)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Body)
}

func TestCloseSession(t *testing.T) {
	e := newEnv(t, staticSettler{result: payment.SettlementResult{OK: true}})
	token := e.sessionToken(t)

	rec := e.do(t, http.MethodDelete, "/v1/sessions", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// A closed session no longer authenticates.
	rec = e.do(t, http.MethodPost, "/v1/generate", token, generateRequest{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
