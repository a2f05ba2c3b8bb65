package payments

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/beatgate/beatgate/pkg/logger"
)

// Sweeper periodically removes expired PENDING challenges. It implements the
// system.Service lifecycle.
type Sweeper struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	log      *logger.Logger
}

// NewSweeper creates a sweeper on the given cron schedule (default every
// minute).
func NewSweeper(service *Service, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if log == nil {
		log = logger.NewDefault("challenge-sweeper")
	}
	return &Sweeper{service: service, schedule: schedule, log: log}
}

func (s *Sweeper) Name() string { return "challenge-sweeper" }

func (s *Sweeper) Start(context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.service.SweepExpired(context.Background()); err != nil {
			s.log.WithError(err).Warn("challenge sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule challenge sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
