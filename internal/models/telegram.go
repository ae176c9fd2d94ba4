package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run summary notification.
type TelegramMessage struct {
	Success   bool
	RunID     string
	Host      string
	Engine    Engine
	StartTime time.Time
	Duration  time.Duration
	ExitCode  int

	Targets []TargetSummary

	// Retention stats.
	DirectoriesRemoved int

	// Set when the run aborted.
	FatalError string
}

// TargetSummary is one line of the notification.
type TargetSummary struct {
	Name      string
	State     TargetState
	SizeBytes int64
	Error     string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
