/**
 * @description
 * Cron-driven sweep for stale pending instant bookings. The per-booking
 * watchdog timers live in process memory, so a restart can orphan a pending
 * booking with no timer. The sweeper periodically cancels and refunds any
 * instant booking that outlived the offer window, making expiry safe across
 * restarts.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const staleSweepBatchSize = 50

// Sweeper runs the stale-booking sweep on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
	window  time.Duration
}

// NewSweeper creates a sweeper for bookings older than the dispatch window.
func NewSweeper(service *Service, logger *slog.Logger, window time.Duration) *Sweeper {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Sweeper{
		cron:    c,
		service: service,
		logger:  logger,
		window:  window,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Sweeper) Start(schedule string) {
	if _, err := s.cron.AddFunc(schedule, s.SweepStaleBookings); err != nil {
		s.logger.Error("failed to schedule stale booking sweep", "error", err)
		return
	}
	s.logger.Info("scheduled stale booking sweep", "schedule", schedule, "window", s.window.String())
	s.cron.Start()
}

// Stop halts the cron scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepStaleBookings expires every pending instant booking older than the
// offer window. Losing the cancel race to a concurrent accept is fine; the
// sweep just moves on.
func (s *Sweeper) SweepStaleBookings() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	stale, err := s.service.repo.FindStalePendingInstantBookings(ctx, s.window, staleSweepBatchSize)
	if err != nil {
		s.logger.Error("stale booking sweep query failed", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Info("expiring stale pending bookings", "count", len(stale))
	for _, booking := range stale {
		if err := s.service.ExpireBooking(ctx, booking.ID); err != nil {
			s.logger.Error("failed to expire stale booking", "booking_id", booking.ID.String(), "error", err)
		}
	}
}
