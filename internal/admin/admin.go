// Package admin exposes the operator API: challenge and settlement
// inspection plus station control. It is served on a separate listener and
// gated by a static token.
package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beatgate/beatgate/internal/app/services/payments"
	"github.com/beatgate/beatgate/internal/app/services/stations"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Services bundles the application services the admin API drives.
type Services struct {
	Payments *payments.Service
	Stations *stations.Service
}

type handler struct {
	svc Services
	log *logger.Logger
}

// NewHandler builds the admin router. An empty token disables the API
// entirely rather than leaving it open.
func NewHandler(token string, svc Services, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	h := &handler{svc: svc, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tokenAuth(token))

	v1 := r.Group("/admin/v1")
	{
		v1.GET("/challenges", h.listChallenges)
		v1.GET("/challenges/:id", h.getChallenge)
		v1.GET("/challenges/:id/settlements", h.listSettlements)
		v1.GET("/stations", h.listStations)
		v1.POST("/stations/:id/live", h.setLive)
		v1.POST("/stations/:id/advance", h.advanceQueue)
	}
	return r
}

func tokenAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

func (h *handler) listChallenges(c *gin.Context) {
	list, err := h.svc.Payments.ListChallenges(c.Request.Context(), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list challenges"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": list, "count": len(list)})
}

func (h *handler) getChallenge(c *gin.Context) {
	ch, err := h.svc.Payments.GetChallenge(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *handler) listSettlements(c *gin.Context) {
	records, err := h.svc.Payments.ListSettlements(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
}

func (h *handler) listStations(c *gin.Context) {
	list, err := h.svc.Stations.ListStations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stations": list, "count": len(list)})
}

type setLiveRequest struct {
	Live bool `json:"live"`
}

func (h *handler) setLive(c *gin.Context) {
	var req setLiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	st, err := h.svc.Stations.SetLive(c.Request.Context(), c.Param("id"), req.Live)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	h.log.WithField("station_id", st.ID).WithField("live", st.Live).Info("station live flag changed")
	c.JSON(http.StatusOK, st)
}

func (h *handler) advanceQueue(c *gin.Context) {
	st, err := h.svc.Stations.AdvanceQueue(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func abortStoreError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
