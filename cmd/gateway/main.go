// Package main runs the gateway: the public payment-gated music API, the
// operator admin API, and the ops listener.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/beatgate/beatgate/internal/admin"
	"github.com/beatgate/beatgate/internal/app"
	"github.com/beatgate/beatgate/internal/app/httpapi"
	"github.com/beatgate/beatgate/internal/app/metrics"
	"github.com/beatgate/beatgate/internal/app/storage/postgres"
	"github.com/beatgate/beatgate/internal/app/storage/redisstore"
	"github.com/beatgate/beatgate/internal/config"
	"github.com/beatgate/beatgate/internal/httputil"
	"github.com/beatgate/beatgate/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("gateway").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	format := "json"
	if cfg.Logging.Pretty {
		format = "console"
	}
	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: format}).WithComponent("gateway")

	stores, presence, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.WithError(err).Error("initialise storage")
		os.Exit(1)
	}
	defer cleanup()

	application, err := app.New(cfg, stores, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}
	if presence != nil {
		application.Stations.AttachPresence(presence)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	public := &http.Server{
		Addr: cfg.Server.PublicAddr,
		Handler: httpapi.NewHandler(httpapi.Services{
			Payments: application.Payments,
			Stations: application.Stations,
			Sessions: application.Sessions,
			Chat:     application.Chat,
		}, httpapi.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RatePerSecond:  cfg.Server.RatePerSecond,
			RateBurst:      cfg.Server.RateBurst,
			Logger:         log.WithComponent("httpapi"),
		}),
	}
	adminSrv := &http.Server{
		Addr: cfg.Server.AdminAddr,
		Handler: admin.NewHandler(cfg.Payment.AdminToken, admin.Services{
			Payments: application.Payments,
			Stations: application.Stations,
		}, log.WithComponent("admin")),
	}
	opsSrv := &http.Server{
		Addr:    cfg.Server.OpsAddr,
		Handler: opsHandler(),
	}

	servers := map[string]*http.Server{
		"public": public,
		"admin":  adminSrv,
		"ops":    opsSrv,
	}
	errCh := make(chan error, len(servers))
	for name, srv := range servers {
		name, srv := name, srv
		log.WithField("listener", name).WithField("addr", srv.Addr).Info("listener starting")
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).WithField("listener", name).Error("listener failed")
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace.Std())
	defer cancel()
	for name, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("listener", name).Warn("listener shutdown")
		}
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("gateway stopped")
}

// buildStores selects the persistence backends. With no DSN everything stays
// in memory; with no Redis address sessions share the primary store and
// listener presence is disabled.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *redisstore.Presence, func(), error) {
	var stores app.Stores
	var presence *redisstore.Presence
	cleanup := func() {}

	if cfg.Database.DSN != "" {
		db, err := sqlx.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return stores, nil, cleanup, err
		}
		if err := db.Ping(); err != nil {
			return stores, nil, cleanup, err
		}
		if err := postgres.Migrate(db); err != nil {
			return stores, nil, cleanup, err
		}
		store := postgres.New(db)
		stores.Challenges = store
		stores.Settlements = store
		stores.Stations = store
		stores.Sessions = store
		stores.Chat = store
		cleanup = func() { _ = db.Close() }
		log.Info("using postgres storage")
	} else {
		log.Warn("no database DSN configured; state is in-memory only")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return stores, nil, cleanup, err
		}
		stores.Sessions = redisstore.NewSessions(rdb)
		presence = redisstore.NewPresence(rdb, 0)
		prev := cleanup
		cleanup = func() {
			_ = rdb.Close()
			prev()
		}
		log.Info("using redis session and presence storage")
	}

	return stores, presence, cleanup, nil
}

// opsHandler serves metrics and probes on the ops listener.
func opsHandler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)
	return r
}
