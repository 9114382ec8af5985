package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/codewiki/internal/services/guards"
)

// Service runs periodic maintenance: pruning expired rate-limit rows so
// the sliding window table stays small.
type Service struct {
	rateLimiter *guards.RateLimiter
	cron        *cron.Cron
	logger      arbor.ILogger
	mu          sync.Mutex
	running     bool
}

func NewService(rateLimiter *guards.RateLimiter, logger arbor.ILogger) *Service {
	return &Service{
		rateLimiter: rateLimiter,
		cron:        cron.New(cron.WithSeconds()),
		logger:      logger,
	}
}

// Start schedules the maintenance task with the given cron expression.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(cronExpr, s.runMaintenance); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", cronExpr, err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", cronExpr).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running task to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

func (s *Service) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := s.rateLimiter.Prune(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Rate limit pruning failed")
		return
	}
	if pruned > 0 {
		s.logger.Debug().Int64("rows", pruned).Msg("Pruned expired rate limit entries")
	}
}
