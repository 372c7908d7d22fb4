package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
)

// HousekeepingService periodically removes expired sessions, MFA challenges
// and password-reset tokens. Reads already ignore expired rows; this only
// keeps the tables from growing without bound.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Clock    clockx.Clock
	Interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHousekeepingService returns a stopped service. A non-positive interval
// defaults to one hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, clock clockx.Clock, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Clock:    clockx.Or(clock),
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker. It runs one cleanup immediately.
func (s *HousekeepingService) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
		s.Logger.Info("housekeeping service started", "interval", s.Interval)
	})
}

// Stop blocks until any in-progress cleanup has finished. Stopping a service
// that was never started is a no-op.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() {})
		close(s.stopCh)
		if s.started {
			<-s.doneCh
		}
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// CleanupResult counts the rows removed by one pass.
type CleanupResult struct {
	Sessions      int64
	MFAChallenges int64
	ResetTokens   int64
	Failures      int
}

// Cleanup runs one pass. Each step is independent; a failure in one does
// not skip the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) CleanupResult {
	now := s.Clock.Now()
	var res CleanupResult

	steps := []struct {
		name string
		run  func() (int64, error)
		out  *int64
	}{
		{"expired sessions", func() (int64, error) { return s.Store.Sessions().DeleteExpired(ctx, now) }, &res.Sessions},
		{"expired MFA challenges", func() (int64, error) { return s.Store.MFAChallenges().DeleteExpired(ctx, now) }, &res.MFAChallenges},
		{"expired reset tokens", func() (int64, error) { return s.Store.Users().ClearExpiredResetTokens(ctx, now) }, &res.ResetTokens},
	}
	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			res.Failures++
			s.Logger.Error("housekeeping step failed", "step", step.name, "error", err)
			continue
		}
		*step.out = n
	}

	s.Logger.Info("housekeeping cleanup completed",
		"sessions", res.Sessions,
		"mfa_challenges", res.MFAChallenges,
		"reset_tokens", res.ResetTokens,
		"failures", res.Failures,
	)
	return res
}
