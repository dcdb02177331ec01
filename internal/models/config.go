// Package models contains the data structures used throughout worldkeeper.
package models

import "time"

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	ContainerName string
	WorldPaths    []string
	BackupDir     string
	Warnings      []int // lead-times in minutes, any order
	Retention     RetentionPolicy
	Dev           bool

	ArchivePrefix string
	Compression   string // "fastest", "default" or "best"
	Runtime       RuntimeConfig
	Schedule      string          // cron expression, empty if not configured
	Telegram      *TelegramConfig // nil if not configured
}

// RuntimeConfig holds settings for talking to the container runtime.
type RuntimeConfig struct {
	Binary         string        // runtime CLI, e.g. "docker"
	ConsoleCommand string        // console client inside the container, e.g. "rcon-cli"
	StopTimeout    time.Duration // upper bound on waiting for the container to stop
	PollInterval   time.Duration
}

// RetentionPolicy defines which backup artifacts survive pruning.
// A zero value disables that dimension.
type RetentionPolicy struct {
	MaxBackups int
	MaxDays    int
}

// Enabled reports whether at least one retention dimension is active.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxBackups > 0 || p.MaxDays > 0
}
