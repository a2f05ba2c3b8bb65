package app

import (
	"context"
	"fmt"

	"github.com/beatgate/beatgate/internal/app/services/chat"
	"github.com/beatgate/beatgate/internal/app/services/generation"
	"github.com/beatgate/beatgate/internal/app/services/payments"
	"github.com/beatgate/beatgate/internal/app/services/sessions"
	"github.com/beatgate/beatgate/internal/app/services/stations"
	"github.com/beatgate/beatgate/internal/app/storage"
	"github.com/beatgate/beatgate/internal/app/storage/memory"
	"github.com/beatgate/beatgate/internal/app/system"
	"github.com/beatgate/beatgate/internal/chain"
	"github.com/beatgate/beatgate/internal/config"
	"github.com/beatgate/beatgate/internal/payment"
	"github.com/beatgate/beatgate/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Challenges  storage.ChallengeStore
	Settlements storage.SettlementStore
	Stations    storage.StationStore
	Sessions    storage.SessionStore
	Chat        storage.ChatStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Payments *payments.Service
	Stations *stations.Service
	Sessions *sessions.Service
	Chat     *chat.Service
}

// New builds a fully initialised application from the configuration and the
// provided stores.
func New(cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Challenges == nil {
		stores.Challenges = mem
	}
	if stores.Settlements == nil {
		stores.Settlements = mem
	}
	if stores.Stations == nil {
		stores.Stations = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.Chat == nil {
		stores.Chat = mem
	}

	orchestrator, err := buildOrchestrator(cfg, log)
	if err != nil {
		return nil, err
	}

	paySvc, err := payments.New(payments.Config{
		PayTo:         cfg.Payment.PayTo,
		AmountAtomic:  cfg.Payment.AmountAtomic,
		Asset:         cfg.Payment.Asset,
		TokenAddress:  cfg.Payment.TokenAddress,
		Chain:         cfg.Payment.Chain,
		ChainID:       cfg.Payment.ChainID,
		ChallengeTTL:  cfg.Payment.ChallengeTTL.Std(),
		SkewTolerance: cfg.Payment.SkewTolerance.Std(),
		Strategy:      payment.Strategy(cfg.Payment.Strategy),
	}, stores.Challenges, stores.Settlements, orchestrator, log.WithComponent("payments"))
	if err != nil {
		return nil, fmt.Errorf("build payments service: %w", err)
	}

	sessSvc, err := sessions.New(stores.Sessions, cfg.Payment.SessionSecret, 0, log.WithComponent("sessions"))
	if err != nil {
		return nil, fmt.Errorf("build sessions service: %w", err)
	}

	var generator generation.Generator
	if cfg.Generator.URL != "" {
		generator, err = generation.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.APIKey, log.WithComponent("generator"))
		if err != nil {
			return nil, fmt.Errorf("build generator: %w", err)
		}
	} else {
		log.Warn("generator URL not set; using mock generator")
		generator = &generation.Mock{}
	}

	stationSvc := stations.New(stores.Stations, stores.Challenges, generator, log.WithComponent("stations"))
	chatSvc := chat.New(stores.Chat, chat.NewHub(log.WithComponent("chat-hub")), log.WithComponent("chat"))

	manager := system.NewManager()
	if err := manager.Register(payments.NewSweeper(paySvc, "", log.WithComponent("challenge-sweeper"))); err != nil {
		return nil, fmt.Errorf("register challenge sweeper: %w", err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Payments: paySvc,
		Stations: stationSvc,
		Sessions: sessSvc,
		Chat:     chatSvc,
	}, nil
}

// buildOrchestrator assembles the settlement paths the configured strategy
// needs. An unconfigured path stays nil and is reported as not attempted.
func buildOrchestrator(cfg *config.Config, log *logger.Logger) (*payment.Orchestrator, error) {
	var facilitator payment.FacilitatorSettler
	if cfg.Payment.FacilitatorURL != "" {
		facilitator = payment.NewFacilitatorClient(payment.FacilitatorConfig{
			BaseURL: cfg.Payment.FacilitatorURL,
			Dialect: payment.Dialect(cfg.Payment.Dialect),
			Logger:  log.WithComponent("facilitator"),
		})
	}

	var local payment.LocalBroadcaster
	if cfg.Payment.Strategy != string(payment.StrategyFacilitator) {
		key, err := payment.ParsePrivateKey(cfg.Payment.ReceiverKey)
		if err != nil {
			return nil, fmt.Errorf("parse receiver key: %w", err)
		}
		client, err := chain.NewClient(chain.Config{
			RPCURL:  cfg.Chain.RPCURL,
			Timeout: cfg.Chain.Timeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("build chain client: %w", err)
		}
		local, err = chain.NewBroadcaster(chain.BroadcasterConfig{
			Client: client,
			Key:    key,
			Logger: log.WithComponent("broadcaster"),
		})
		if err != nil {
			return nil, fmt.Errorf("build broadcaster: %w", err)
		}
	}

	return payment.NewOrchestrator(payment.OrchestratorConfig{
		Facilitator: facilitator,
		Local:       local,
		Logger:      log.WithComponent("settlement"),
	}), nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
