// Package scheduler runs the backup workflow on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/runner"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Parser accepts standard five-field expressions, an optional seconds field and descriptors like @daily.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Service defines the interface for the scheduler.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) error
}

// Impl implements the scheduler Service interface.
type Impl struct {
	runner runner.Service
	logger zerolog.Logger
}

// New creates a new scheduler service.
func New(logger zerolog.Logger, runnerSvc runner.Service) *Impl {
	return &Impl{
		runner: runnerSvc,
		logger: logger,
	}
}

// Run blocks until ctx is done, invoking a backup on every schedule tick.
// A tick that fires while a backup is still running is skipped.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) error {
	if cfg.Schedule == "" {
		return fmt.Errorf("schedule is required")
	}

	c := cron.New(
		cron.WithParser(Parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})),
	)

	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	c.Schedule(sched, cron.FuncJob(func() {
		s.runOnce(ctx, cfg)
	}))

	c.Start()
	s.logger.Info().
		Str("schedule", cfg.Schedule).
		Time("next", sched.Next(time.Now())).
		Msg("scheduler started")

	<-ctx.Done()

	s.logger.Info().Msg("scheduler stopping, waiting for running backup")
	<-c.Stop().Done()
	return nil
}

func (s *Impl) runOnce(ctx context.Context, cfg models.BackupConfig) {
	if ctx.Err() != nil {
		return
	}

	result, err := s.runner.Run(ctx, cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg(runner.StatusLine(result, err))
		return
	}
	if len(result.Degraded) > 0 {
		s.logger.Warn().Str("archive", result.ArtifactPath).Msg(runner.StatusLine(result, nil))
		return
	}
	s.logger.Info().Str("archive", result.ArtifactPath).Msg(runner.StatusLine(result, nil))
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
