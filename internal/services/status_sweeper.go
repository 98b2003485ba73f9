package services

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"
)

// StatusSweeper periodically evicts old status records.
type StatusSweeper struct {
	tracker *StatusService
	ttl     time.Duration
	cron    *cron.Cron
	logger  *log.Logger
}

func NewStatusSweeper(tracker *StatusService, ttl time.Duration, logger *log.Logger) *StatusSweeper {
	return &StatusSweeper{
		tracker: tracker,
		ttl:     ttl,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the sweep. A zero TTL disables it.
func (s *StatusSweeper) Start(schedule string) error {
	if s.ttl <= 0 {
		s.logger.Info().Msg("status TTL disabled, sweeper not started")
		return nil
	}
	if schedule == "" {
		schedule = "@every 10m"
	}

	if _, err := s.cron.AddFunc(schedule, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", schedule).Dur("ttl", s.ttl).Msg("status sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *StatusSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *StatusSweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.tracker.Evict(ctx, s.ttl)
	if err != nil {
		s.logger.Error().Err(err).Msg("status sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("evicted", n).Msg("status sweep completed")
	}
}
