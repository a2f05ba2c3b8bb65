// Package httpapi exposes the public REST and WebSocket API.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/beatgate/beatgate/internal/app/metrics"
	"github.com/beatgate/beatgate/internal/app/services/chat"
	"github.com/beatgate/beatgate/internal/app/services/payments"
	"github.com/beatgate/beatgate/internal/app/services/sessions"
	"github.com/beatgate/beatgate/internal/app/services/stations"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/internal/httputil"
	"github.com/beatgate/beatgate/internal/middleware"
	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Services bundles the application services the public API serves.
type Services struct {
	Payments *payments.Service
	Stations *stations.Service
	Sessions *sessions.Service
	Chat     *chat.Service
}

// Options configures the cross-cutting middleware on the public router.
type Options struct {
	AllowedOrigins []string
	RatePerSecond  float64
	RateBurst      int
	Logger         *logger.Logger
}

type handler struct {
	svc Services
	log *logger.Logger
}

// NewHandler builds the public API router.
func NewHandler(svc Services, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 25
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	h := &handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return metrics.InstrumentHandler(next) })
	r.Use(middleware.Tracing(log))
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.SessionAuth(h.svc.Sessions, false))
	r.Use(middleware.NewRateLimiter(opts.RatePerSecond, opts.RateBurst).Handler)

	r.Get("/healthz", h.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/challenges", h.issueChallenge)
		r.Get("/challenges/{id}", h.getChallenge)
		r.Post("/challenges/{id}/confirm", h.confirmChallenge)

		r.Post("/sessions", h.createSession)

		r.Post("/stations", h.createStation)
		r.Get("/stations", h.listStations)
		r.Get("/stations/{id}", h.getStation)
		r.Get("/stations/{id}/queue", h.listQueue)
		r.Get("/stations/{id}/listeners", h.listenerCount)
		r.Get("/stations/{id}/chat", h.chatHistory)

		// Endpoints below spend money or speak for a wallet.
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionAuth(h.svc.Sessions, true))
			r.Post("/generate", h.generate)
			r.Delete("/sessions", h.closeSession)
			r.Post("/stations/{id}/heartbeat", h.heartbeat)
			r.Post("/stations/{id}/chat", h.postChat)
			r.Get("/stations/{id}/ws", h.chatSocket)
		})
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- payments ---

func (h *handler) issueChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.Payments.IssueChallenge(r.Context())
	if err != nil {
		h.log.WithError(err).Error("issue challenge")
		httputil.WriteError(w, http.StatusInternalServerError, "failed to issue challenge")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ch)
}

func (h *handler) getChallenge(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.Payments.GetChallenge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ch)
}

type confirmRequest struct {
	Authorization  payment.Authorization `json:"authorization"`
	BindingMessage string                `json:"bindingMessage"`
}

func (h *handler) confirmChallenge(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	result, err := h.svc.Payments.Confirm(r.Context(), chi.URLParam(r, "id"), req.Authorization, req.BindingMessage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, statusForResult(result), result)
}

// statusForResult maps a settlement outcome to an HTTP status. Validation
// failures are the client's fault; provider failures are upstream's.
func statusForResult(result payment.SettlementResult) int {
	if result.OK {
		return http.StatusOK
	}
	switch result.Code {
	case payment.CodeValidationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// --- sessions ---

type createSessionRequest struct {
	Wallet    string `json:"wallet"`
	StationID string `json:"stationId"`
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	sess, token, err := h.svc.Sessions.Create(r.Context(), req.Wallet, req.StationID)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "%v", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"session": sess,
		"token":   token,
	})
}

func (h *handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sessions.Close(r.Context(), middleware.SessionID(r.Context())); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- stations and the paid queue ---

type createStationRequest struct {
	Name  string `json:"name"`
	Genre string `json:"genre"`
}

func (h *handler) createStation(w http.ResponseWriter, r *http.Request) {
	var req createStationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	st, err := h.svc.Stations.CreateStation(r.Context(), req.Name, req.Genre)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "%v", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, st)
}

func (h *handler) listStations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Stations.ListStations(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list stations")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getStation(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stations.GetStation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *handler) listQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.svc.Stations.ListQueue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, queue)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stations.Heartbeat(r.Context(), chi.URLParam(r, "id"), middleware.SessionID(r.Context())); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listenerCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.Stations.ListenerCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to count listeners")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"listeners": count})
}

type generateRequest struct {
	StationID   string `json:"stationId"`
	ChallengeID string `json:"challengeId"`
	Prompt      string `json:"prompt"`
}

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	track, err := h.svc.Stations.SubmitTrack(r.Context(), req.StationID, req.ChallengeID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, stations.ErrPaymentRequired):
			httputil.WriteError(w, http.StatusPaymentRequired, "%v", err)
		case errors.Is(err, storage.ErrNotFound):
			httputil.WriteError(w, http.StatusNotFound, "not found")
		default:
			httputil.WriteError(w, http.StatusBadRequest, "%v", err)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, track)
}

// --- chat ---

func (h *handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.svc.Chat.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msgs)
}

type postChatRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (h *handler) postChat(w http.ResponseWriter, r *http.Request) {
	var req postChatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	msg, err := h.svc.Chat.Post(r.Context(), chi.URLParam(r, "id"), middleware.SessionID(r.Context()), req.Author, req.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "%v", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, msg)
}

func (h *handler) chatSocket(w http.ResponseWriter, r *http.Request) {
	author := r.URL.Query().Get("author")
	h.svc.Chat.ServeWS(w, r, chi.URLParam(r, "id"), middleware.SessionID(r.Context()), author)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	httputil.WriteError(w, http.StatusInternalServerError, "internal error")
}
