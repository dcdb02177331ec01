package main

import (
	"fmt"

	"github.com/fgeck/worldkeeper/internal/services/runner"
	"github.com/fgeck/worldkeeper/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured cron schedule",
	Long: `Run in the foreground and execute the backup workflow on every tick of the
cron expression configured under "schedule". A tick that fires while a backup
is still running is skipped. SIGINT/SIGTERM stops the scheduler after the
running backup has restarted the server.`,
	RunE: runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil || cfg == nil {
		return err
	}

	if cfg.Schedule == "" {
		log.Error().Msg("schedule is not configured")
		return fmt.Errorf("schedule is required for the schedule command")
	}

	ctx, cancel := signalContext()
	defer cancel()

	schedulerSvc := scheduler.New(log.Logger, runner.New(log.Logger, cfg.Runtime))
	return schedulerSvc.Run(ctx, *cfg)
}
