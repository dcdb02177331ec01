// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/worldkeeper/internal/models"
	"github.com/fgeck/worldkeeper/internal/services/archive"
	"github.com/fgeck/worldkeeper/internal/services/scheduler"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("archive_prefix", archive.DefaultPrefix)
	v.SetDefault("compression", archive.LevelDefault)
	v.SetDefault("runtime.binary", "docker")
	v.SetDefault("runtime.console_command", "rcon-cli")
	v.SetDefault("runtime.stop_timeout", 30*time.Second)
	v.SetDefault("runtime.poll_interval", 2*time.Second)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.BackupConfig, error) {
	warnings, err := p.intSlice("warnings")
	if err != nil {
		return nil, err
	}

	cfg := &models.BackupConfig{
		ContainerName: p.expandEnv(p.v.GetString("container_name")),
		WorldPaths:    p.v.GetStringSlice("world_paths"),
		BackupDir:     p.expandEnv(p.v.GetString("backup_dir")),
		Warnings:      warnings,
		Retention: models.RetentionPolicy{
			MaxBackups: p.v.GetInt("retention.max_backups"),
			MaxDays:    p.v.GetInt("retention.max_days"),
		},
		Dev:           p.v.GetBool("dev"),
		ArchivePrefix: p.v.GetString("archive_prefix"),
		Compression:   strings.ToLower(p.v.GetString("compression")),
		Runtime: models.RuntimeConfig{
			Binary:         p.v.GetString("runtime.binary"),
			ConsoleCommand: p.v.GetString("runtime.console_command"),
			StopTimeout:    p.v.GetDuration("runtime.stop_timeout"),
			PollInterval:   p.v.GetDuration("runtime.poll_interval"),
		},
		Schedule: p.v.GetString("schedule"),
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// intSlice reads a list of integers, rejecting entries that are not whole numbers.
func (p *Parser) intSlice(key string) ([]int, error) {
	raw := p.v.Get(key)
	if raw == nil {
		return nil, nil
	}

	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be a list of integers", key)
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		case uint64:
			out = append(out, int(n))
		case float64:
			if n != float64(int(n)) {
				return nil, fmt.Errorf("%s: %v is not a whole number", key, n)
			}
			out = append(out, int(n))
		default:
			return nil, fmt.Errorf("%s: %v is not an integer", key, item)
		}
	}
	return out, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
//
//nolint:gocyclo // one check per field
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.ContainerName == "" {
		return fmt.Errorf("container_name is required")
	}

	if len(cfg.WorldPaths) == 0 {
		return fmt.Errorf("world_paths is required")
	}

	if _, err := archive.StagingNames(cfg.WorldPaths); err != nil {
		return fmt.Errorf("world_paths: %w", err)
	}

	if cfg.BackupDir == "" {
		return fmt.Errorf("backup_dir is required")
	}

	for _, w := range cfg.Warnings {
		if w < 0 {
			return fmt.Errorf("warnings must be non-negative, got %d", w)
		}
	}

	if cfg.Retention.MaxBackups < 0 {
		return fmt.Errorf("retention.max_backups must be >= 0")
	}
	if cfg.Retention.MaxDays < 0 {
		return fmt.Errorf("retention.max_days must be >= 0")
	}

	if strings.ContainsAny(cfg.ArchivePrefix, `/\`) {
		return fmt.Errorf("archive_prefix must not contain path separators")
	}

	validLevels := map[string]bool{
		"":                   true,
		archive.LevelFastest: true,
		archive.LevelDefault: true,
		archive.LevelBest:    true,
	}
	if !validLevels[cfg.Compression] {
		return fmt.Errorf("compression must be one of: fastest, default, best")
	}

	if cfg.Runtime.StopTimeout < 0 || cfg.Runtime.PollInterval < 0 {
		return fmt.Errorf("runtime durations must be >= 0")
	}

	if cfg.Schedule != "" {
		if _, err := scheduler.ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}

	if cfg.Telegram != nil {
		if cfg.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return nil
}
