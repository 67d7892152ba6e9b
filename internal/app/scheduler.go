/**
 * @description
 * Cron scheduler for the periodic assessment of recorded resets.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Assessor runs one assessment pass. *Service implements it.
type Assessor interface {
	AssessDueResets(ctx context.Context) (AssessmentRun, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	assessor Assessor
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(assessor Assessor, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		assessor: assessor,
		logger:   logger,
		schedule: schedule,
		timeout:  10 * time.Minute,
	}
}

// Start registers the assessment job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunAssessment); err != nil {
		s.logger.Error("failed to schedule assessment job", "error", err)
		return err
	}
	s.logger.Info("scheduled assessment job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// RunAssessment assesses due resets once.
func (s *Scheduler) RunAssessment() {
	s.logger.Info("starting assessment job")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	run, err := s.assessor.AssessDueResets(ctx)
	if err != nil {
		s.logger.Error("assessment job failed", "error", err)
		return
	}
	s.logger.Info("assessment job finished", "due", run.Due, "assessed", run.Assessed, "flagged", run.Flagged, "failed", run.Failed)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
