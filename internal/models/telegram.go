package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a backup notification.
type TelegramMessage struct {
	Success   bool
	Container string
	StartTime time.Time
	Duration  time.Duration

	// Archive stats (if successful).
	ArtifactPath string
	SizeBytes    int64

	// Retention stats.
	ArtifactsRemoved int
	ArtifactsKept    int

	// Lifecycle state.
	StopConfirmed bool
	Restarted     bool

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
