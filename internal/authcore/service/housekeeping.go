package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/openkettle/authcore/internal/authcore/store"
)

// HousekeepingService periodically purges revoked, long-expired session
// rows so the sessions table does not grow without bound. Live rows are
// never touched. Secrets-store keys expire on their own and need no
// sweeping.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Retention keeps expired sessions around for a while so a late
	// replay of an old token still hits a row and trips chain revocation.
	Retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker. Interval defaults to
// 1 hour, retention to 7 days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:     st,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts the worker down and blocks until any in-progress sweep ends.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a sweep immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.Retention)

	deleted, err := s.Store.Sessions().DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to purge expired sessions", "error", err)
		return
	}
	s.Logger.Info("housekeeping sweep completed", "sessions_deleted", deleted)
}
