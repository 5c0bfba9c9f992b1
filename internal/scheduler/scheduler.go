// Package scheduler runs the panel's periodic maintenance jobs.
package scheduler

import (
	"time"

	"bibliopanel/internal/config"
	"bibliopanel/internal/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *JobRunner
}

// NewScheduler creates a scheduler with the jobs registered from cfg.
func NewScheduler(cfg config.SchedulerConfig, jobRunner *JobRunner) *Scheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	s.registerJobs(cfg)
	return s
}

func (s *Scheduler) registerJobs(cfg config.SchedulerConfig) {
	if _, err := s.cron.AddFunc(cfg.ReconcileStock, s.jobs.ReconcileStock); err != nil {
		logger.Error("Failed to register ReconcileStock job", "schedule", cfg.ReconcileStock, "error", err)
	}

	if _, err := s.cron.AddFunc(cfg.RefreshConfig, s.jobs.RefreshConfig); err != nil {
		logger.Error("Failed to register RefreshConfig job", "schedule", cfg.RefreshConfig, "error", err)
	}

	logger.Info("Cron jobs registered", "count", len(s.cron.Entries()))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("Cron scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// Jobs reports how many jobs were registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}
