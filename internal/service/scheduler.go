package service

import (
	"context"
	"time"

	"telefeed/internal/constants"

	"github.com/sirupsen/logrus"
)

// CorrelationCleaner prunes aged correlation entries.
type CorrelationCleaner interface {
	CleanupOldCorrelations(retentionDays int) error
}

// Scheduler bounds correlation table growth: entries older than the
// retention window are deleted on a fixed interval. Edits arriving for
// pruned messages take the marked-send fallback path.
type Scheduler struct {
	cleaner       CorrelationCleaner
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(cleaner CorrelationCleaner, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.CleanupSchedulerIntervalHours
	}
	return &Scheduler{
		cleaner:       cleaner,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting correlation cleanup scheduler")

	s.runCleanup()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runCleanup() {
	s.logger.WithField("retentionDays", s.retentionDays).Info("Running scheduled correlation cleanup")

	if err := s.cleaner.CleanupOldCorrelations(s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old correlations")
	}
}
