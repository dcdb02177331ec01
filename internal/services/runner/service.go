// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/archive"
	"github.com/fgeck/worldkeeper/internal/services/container"
	"github.com/fgeck/worldkeeper/internal/services/retention"
	"github.com/fgeck/worldkeeper/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Diagnostic console commands issued in dev mode.
const (
	DevBroadcast = "say Backup manager connectivity check (dev mode), no action taken."
	DevStatus    = "list"
)

// restartTimeout bounds the restart when the run context has been cancelled.
const restartTimeout = 2 * time.Minute

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	containerSvc container.Service
	archiveSvc   archive.Service
	retentionSvc retention.Service
	telegramSvc  telegram.Service
	logger       zerolog.Logger
	sleep        Sleeper
}

// New creates a new runner service.
func New(logger zerolog.Logger, runtime models.RuntimeConfig) *Impl {
	containerSvc := container.New(logger, runtime)
	return &Impl{
		containerSvc: containerSvc,
		archiveSvc:   archive.New(logger, containerSvc),
		retentionSvc: retention.New(logger),
		telegramSvc:  telegram.New(logger),
		logger:       logger,
		sleep:        ContextSleep,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	containerSvc container.Service,
	archiveSvc archive.Service,
	retentionSvc retention.Service,
	telegramSvc telegram.Service,
	sleep Sleeper,
) *Impl {
	return &Impl{
		containerSvc: containerSvc,
		archiveSvc:   archiveSvc,
		retentionSvc: retentionSvc,
		telegramSvc:  telegramSvc,
		logger:       logger,
		sleep:        sleep,
	}
}

// Run executes the backup lifecycle once: warn, stop, archive, retain, start.
// The server is restarted whenever it was stopped, even if archiving failed.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now(), Dev: cfg.Dev}
	var runErr error

	s.logger.Info().
		Str("container", cfg.ContainerName).
		Strs("world_paths", cfg.WorldPaths).
		Str("backup_dir", cfg.BackupDir).
		Bool("dev", cfg.Dev).
		Msg("starting backup run")

	if cfg.Dev {
		s.runDiagnostics(ctx, cfg.ContainerName)
		result.Duration = time.Since(result.StartTime)
		return result, nil
	}

	defer func() {
		result.Duration = time.Since(result.StartTime)
		if cfg.Telegram != nil {
			s.sendNotification(cfg, result, runErr)
		}
	}()

	// Step 1: Warnings
	if err := s.sendWarnings(ctx, cfg.ContainerName, BuildWarningSchedule(cfg.Warnings)); err != nil {
		runErr = &models.PhaseError{Phase: models.PhaseWarn, Err: err}
		result.FailedPhase = models.PhaseWarn
		s.logger.Warn().Err(err).Msg("backup aborted before stopping the server")
		return result, runErr
	}

	// Step 2: Stop
	result.StopConfirmed = s.stopServer(ctx, cfg)
	if !result.StopConfirmed {
		result.Degraded = append(result.Degraded, models.PhaseStop)
	}

	// The server must come back up even if the run is cancelled from here on.
	defer func() {
		result.Restarted = s.startServer(ctx, cfg.ContainerName)
		if !result.Restarted {
			result.Degraded = append(result.Degraded, models.PhaseStart)
		}
	}()

	// Step 3: Archive
	archiveResult, err := s.archiveSvc.Build(ctx, cfg)
	if err == nil && archiveResult.Error != nil {
		err = archiveResult.Error
	}
	if err != nil {
		runErr = &models.PhaseError{Phase: models.PhaseArchive, Err: err}
		result.FailedPhase = models.PhaseArchive
		s.logger.Error().Err(err).Msg("archive failed, skipping retention")
		return result, runErr
	}
	result.ArtifactPath = archiveResult.Path
	result.SizeBytes = archiveResult.SizeBytes

	s.logger.Info().
		Str("archive", archiveResult.Path).
		Str("size", humanize.Bytes(uint64(archiveResult.SizeBytes))).
		Msg("backup archived")

	// Step 4: Retention
	s.applyRetention(ctx, cfg, result)

	return result, nil
}

func (s *Impl) runDiagnostics(ctx context.Context, containerName string) {
	s.logger.Info().Msg("dev mode: sending diagnostic commands only")

	for _, cmd := range []string{DevBroadcast, DevStatus} {
		res := s.containerSvc.Console(ctx, containerName, cmd)
		s.logger.Info().
			Str("command", cmd).
			Str("status", res.Status.String()).
			Str("output", res.Output).
			Msg("diagnostic command finished")
	}
}

// stopServer asks the server to stop and waits for the container to report stopped.
// It returns whether the stop was confirmed.
func (s *Impl) stopServer(ctx context.Context, cfg models.BackupConfig) bool {
	res := s.containerSvc.Stop(ctx, cfg.ContainerName)
	if !res.Delivered() {
		s.logger.Warn().
			Err(res.Error).
			Str("status", res.Status.String()).
			Msg("stop command failed, archive may be taken from live data")
	}

	err := s.containerSvc.WaitStopped(ctx, cfg.ContainerName, cfg.Runtime.StopTimeout, cfg.Runtime.PollInterval)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Msg("server not confirmed stopped, archive may be taken from live data")
		return false
	}
	return true
}

func (s *Impl) startServer(ctx context.Context, containerName string) bool {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), restartTimeout)
		defer cancel()
	}

	res := s.containerSvc.Start(ctx, containerName)
	if !res.Delivered() {
		s.logger.Error().
			Err(res.Error).
			Str("container", containerName).
			Msg("server restart failed, manual intervention required")
		return false
	}

	s.logger.Info().Str("container", containerName).Msg("server restarted")
	return true
}

// applyRetention prunes old artifacts. Failures are logged and never abort the run.
func (s *Impl) applyRetention(ctx context.Context, cfg models.BackupConfig, result *models.RunResult) {
	retResult, err := s.retentionSvc.Apply(ctx, cfg.BackupDir, cfg.ArchivePrefix, cfg.Retention)
	if err == nil && retResult.Error != nil {
		err = retResult.Error
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("retention failed, continuing")
		result.Degraded = append(result.Degraded, models.PhaseRetain)
		return
	}

	result.Kept = retResult.Kept
	result.Removed = len(retResult.Removed)
	if len(retResult.Failed) > 0 {
		s.logger.Warn().Strs("failed", retResult.Failed).Msg("some backups could not be deleted")
	}
}

func (s *Impl) sendNotification(cfg models.BackupConfig, result *models.RunResult, runErr error) {
	msg := models.TelegramMessage{
		Success:          runErr == nil,
		Container:        cfg.ContainerName,
		StartTime:        result.StartTime,
		Duration:         result.Duration,
		ArtifactPath:     result.ArtifactPath,
		SizeBytes:        result.SizeBytes,
		ArtifactsRemoved: result.Removed,
		ArtifactsKept:    result.Kept,
		StopConfirmed:    result.StopConfirmed,
		Restarted:        result.Restarted,
	}

	if runErr != nil {
		msg.FailedStep = string(result.FailedPhase)
		msg.ErrorMessage = runErr.Error()
		var phaseErr *models.PhaseError
		if errors.As(runErr, &phaseErr) {
			msg.ErrorMessage = phaseErr.Err.Error()
		}
	}

	// The run context may already be cancelled; the report should still go out.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

// Notes appended to the status line for phases that failed without aborting the run.
var degradedNotes = map[models.Phase]string{
	models.PhaseStop:   "server not confirmed stopped, archive may contain live data",
	models.PhaseRetain: "retention failed",
	models.PhaseStart:  "server restart failed, manual intervention required",
}

// StatusLine renders the one-line outcome of a run.
func StatusLine(result *models.RunResult, err error) string {
	var line string
	switch {
	case err != nil:
		line = fmt.Sprintf("Backup failed: %v", err)
	case result.Dev:
		return "Dev mode: diagnostics sent, no backup taken"
	default:
		line = fmt.Sprintf("Backup complete: %s", result.ArtifactPath)
	}

	if result == nil {
		return line
	}
	for _, phase := range result.Degraded {
		line += "; " + degradedNotes[phase]
	}
	return line
}
