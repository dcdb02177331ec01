package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/fgeck/worldkeeper/internal/config"
	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow once",
	Long: `Execute the complete backup workflow:
1. Broadcast shutdown warnings to players
2. Stop the server through its console
3. Copy the world directories out of the container into a tar.gz archive
4. Apply retention policy
5. Restart the server
6. Send Telegram notification (if configured)

With dev: true only a diagnostic broadcast and a status query are sent.`,
	RunE: runBackup,
}

var errRestartFailed = errors.New("backup archived but the server did not restart")

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil || cfg == nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg.Runtime)
	result, err := runnerSvc.Run(ctx, *cfg)
	printStatus(result, err)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}
	if result.IsDegraded(models.PhaseStart) {
		return errRestartFailed
	}

	log.Info().Msg("backup completed successfully")
	return nil
}

// loadConfig reads and validates the configuration file. It returns a nil
// config without error when the help text was shown instead.
func loadConfig(cmd *cobra.Command) (*models.BackupConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return nil, cmd.Help()
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	log.Info().
		Str("config", configFile).
		Str("container", cfg.ContainerName).
		Str("backup_dir", cfg.BackupDir).
		Msg("configuration loaded")

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func printStatus(result *models.RunResult, err error) {
	line := runner.StatusLine(result, err)
	switch {
	case err != nil:
		_, _ = color.New(color.FgRed, color.Bold).Fprintln(os.Stdout, line)
	case result.Dev, len(result.Degraded) > 0:
		_, _ = color.New(color.FgYellow).Fprintln(os.Stdout, line)
	default:
		_, _ = color.New(color.FgGreen, color.Bold).Fprintln(os.Stdout, line)
	}
}
