package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/fgeck/worldkeeper/internal/config"
	"github.com/fgeck/worldkeeper/internal/services/runner"
	"github.com/fgeck/worldkeeper/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any backup operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()

	fmt.Println(green("Configuration is valid!"))
	fmt.Println()
	fmt.Println(bold("Summary:"))
	fmt.Printf("  Container: %s\n", cfg.ContainerName)
	fmt.Printf("  World paths: %v\n", cfg.WorldPaths)
	fmt.Printf("  Backup dir: %s\n", cfg.BackupDir)
	fmt.Printf("  Archive prefix: %s\n", cfg.ArchivePrefix)
	fmt.Printf("  Compression: %s\n", cfg.Compression)
	fmt.Printf("  Dev mode: %v\n", cfg.Dev)

	fmt.Println()
	fmt.Println(bold("Warnings:"))
	if len(cfg.Warnings) == 0 {
		fmt.Println("  none, server stops immediately")
	} else {
		leadTimes := append([]int(nil), cfg.Warnings...)
		sort.Sort(sort.Reverse(sort.IntSlice(leadTimes)))
		fmt.Printf("  Lead-times: %v minute(s)\n", leadTimes)
		fmt.Printf("  Total wait before stop: %s\n", runner.BuildWarningSchedule(cfg.Warnings).Total())
	}

	fmt.Println()
	fmt.Println(bold("Retention Policy:"))
	fmt.Printf("  Max backups: %s\n", limit(cfg.Retention.MaxBackups))
	fmt.Printf("  Max days: %s\n", limit(cfg.Retention.MaxDays))

	fmt.Println()
	fmt.Println(bold("Runtime:"))
	fmt.Printf("  Binary: %s\n", cfg.Runtime.Binary)
	fmt.Printf("  Console command: %s\n", cfg.Runtime.ConsoleCommand)
	fmt.Printf("  Stop timeout: %s\n", cfg.Runtime.StopTimeout)

	fmt.Println()
	fmt.Println(bold("Optional Features:"))
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	if cfg.Schedule != "" {
		sched, err := scheduler.ParseSchedule(cfg.Schedule)
		if err == nil {
			fmt.Printf("  Schedule: %s (next run %s)\n", cfg.Schedule, sched.Next(time.Now()).Format("2006-01-02 15:04"))
		}
	} else {
		fmt.Printf("  Schedule: not configured\n")
	}

	return nil
}

func limit(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}
