// Package scheduler runs the engine's recurring jobs: the nightly
// revaluation, database maintenance, and backups.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/database"
	"github.com/coveylabs/valuation-engine/internal/modules/portfolio"
	"github.com/coveylabs/valuation-engine/internal/reliability"
)

// Scheduler owns the cron runner and the job wiring
type Scheduler struct {
	cron      *cron.Cron
	runner    *portfolio.Runner
	backup    *reliability.BackupService
	databases []*database.DB
	log       zerolog.Logger
}

// New creates a scheduler. backup may be nil when backups are not configured.
func New(runner *portfolio.Runner, backup *reliability.BackupService, databases []*database.DB, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		runner:    runner,
		backup:    backup,
		databases: databases,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and starts the cron runner.
//
// Revaluation runs on weekday evenings after the US close (22:30 UTC covers
// both EST and EDT closes); WAL checkpoints run hourly; backups nightly.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("30 22 * * 1-5", s.runRevaluation); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.runMaintenance); err != nil {
		return err
	}
	if s.backup != nil {
		if _, err := s.cron.AddFunc("0 3 * * *", s.runBackup); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow triggers an immediate revaluation outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) error {
	_, err := s.runner.Execute(ctx)
	return err
}

func (s *Scheduler) runRevaluation() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	run, err := s.runner.Execute(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Scheduled revaluation failed")
		return
	}
	s.log.Info().Str("run_id", run.ID).Msg("Scheduled revaluation complete")
}

func (s *Scheduler) runMaintenance() {
	for _, db := range s.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}
}

func (s *Scheduler) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.backup.Run(ctx); err != nil {
		s.log.Error().Err(err).Msg("Scheduled backup failed")
	}
}
