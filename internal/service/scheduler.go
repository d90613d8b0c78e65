package service

import (
	"context"
	"time"

	"zapcast/internal/models"

	"github.com/sirupsen/logrus"
)

const auditCleanupInterval = 24 * time.Hour

// Scheduler sweeps scheduled campaigns whose fire time has passed and
// periodically prunes old audit entries.
type Scheduler struct {
	store         Store
	orchestrator  *Orchestrator
	sweepInterval time.Duration
	retentionDays int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(store Store, orchestrator *Orchestrator, sweepInterval time.Duration, retentionDays int, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		orchestrator:  orchestrator,
		sweepInterval: sweepInterval,
		retentionDays: retentionDays,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(auditCleanupInterval)
	defer cleanup.Stop()

	s.logger.WithField("sweep_interval", s.sweepInterval).Info("Starting campaign scheduler")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-sweep.C:
			s.runSweep(ctx)
		case <-cleanup.C:
			s.runCleanup()
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// runSweep starts every scheduled campaign whose fire time has passed.
// A campaign that fails to start is left scheduled and retried on the
// next sweep.
func (s *Scheduler) runSweep(ctx context.Context) {
	due, err := s.store.ListDueScheduledCampaigns(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list due campaigns")
		return
	}

	for _, campaign := range due {
		if campaign.Status != models.CampaignStatusScheduled {
			continue
		}
		if err := s.orchestrator.Start(ctx, campaign); err != nil {
			s.logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to start due campaign")
			continue
		}
	}
}

func (s *Scheduler) runCleanup() {
	if err := s.store.CleanupOldAuditEntries(s.retentionDays); err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old audit entries")
		return
	}
	s.logger.WithField("retention_days", s.retentionDays).Info("Audit log cleanup completed")
}
