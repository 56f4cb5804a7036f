package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cgm-sync-service/internal/config"
	"cgm-sync-service/internal/logger"
)

type Scheduler struct {
	cfg          config.SchedulerConfig
	orchestrator *Orchestrator
	cron         *cron.Cron
	entryID      cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, orchestrator *Orchestrator) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		cron:         cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync()
	})

	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync() {
	for _, name := range s.cfg.Providers {
		summary, err := s.orchestrator.Run(context.Background(), name)
		if errors.Is(err, ErrRunActive) {
			logger.Log.Info("Sync already running, skipping scheduled run", zap.String("provider", name))
			continue
		}
		if err != nil {
			logger.Log.Error("Scheduled sync failed", zap.String("provider", name), zap.Error(err))
			continue
		}

		logger.Log.Info("Scheduled sync finished",
			zap.String("provider", name),
			zap.Int("connections", summary.ConnectionsProcessed),
			zap.Int("rows", summary.RowsInserted),
			zap.Int64("elapsedMs", summary.ElapsedMs),
		)
	}
}
