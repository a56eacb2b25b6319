// Package jobs runs scheduled background maintenance.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakif/teamspace/internal/repository"
)

// TokenSweeper is the part of the token store the sweep needs.
type TokenSweeper interface {
	SweepExpired(ctx context.Context, now, blacklistCutoff time.Time) (repository.SweepResult, error)
}

// Sweeper periodically deletes expired refresh and reset tokens, plus
// blacklist entries old enough that the access token they name has expired
// anyway.
type Sweeper struct {
	cron      *cron.Cron
	store     TokenSweeper
	schedule  string
	retention time.Duration // how long a blacklist row must be kept: the access-token TTL
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper validates schedule (standard cron syntax or descriptors such as
// "@every 1h") and returns a stopped Sweeper.
func NewSweeper(store TokenSweeper, schedule string, retention time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("jobs: invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		cron:      cron.New(),
		store:     store,
		schedule:  schedule,
		retention: retention,
		timeout:   time.Minute,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start registers the sweep and starts the scheduler in its own goroutine.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		// RunOnce logs its own failures.
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("jobs: scheduling sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("token sweep scheduled", slog.String("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("token sweep stopped")
}

// RunOnce performs one sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (repository.SweepResult, error) {
	start := s.now()
	res, err := s.store.SweepExpired(ctx, start, start.Add(-s.retention))
	if err != nil {
		s.logger.Error("token sweep failed", slog.String("error", err.Error()))
		return res, err
	}

	s.logger.Info("token sweep finished",
		slog.Int64("refreshTokens", res.RefreshTokens),
		slog.Int64("resetTokens", res.PasswordResetTokens),
		slog.Int64("blacklisted", res.BlacklistedTokens),
		slog.Duration("duration", s.now().Sub(start)),
	)
	return res, nil
}
