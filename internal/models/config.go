// Package models contains the data structures used throughout goremote-dump.
package models

import "time"

// BackupConfig holds the complete, immutable configuration for a backup run.
type BackupConfig struct {
	Engine      Engine
	Connection  ConnectionProfile
	Dump        DumpOptions
	Layout      LayoutSettings
	Retention   RetentionPolicy
	Compression Compression
	WOL         *WOLConfig      // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
}

// ConnectionProfile describes how to reach the remote host and its database.
type ConnectionProfile struct {
	SSHHost        string
	SSHPort        int
	SSHUser        string
	KeyPath        string
	PrivateKey     []byte // loaded from KeyPath when empty
	KnownHostsPath string // optional; host keys are not checked when empty
	Timeout        time.Duration

	DBHost     string
	DBUser     string
	DBPassword string
}

// HasDBCredentials reports whether both a database user and password were supplied.
func (c ConnectionProfile) HasDBCredentials() bool {
	return c.DBUser != "" && c.DBPassword != ""
}

// DumpOptions controls which databases are dumped and how.
type DumpOptions struct {
	Database            string // single-database selector; empty means all
	Combined            bool   // one artifact containing all databases
	IgnoreSystemSchemas bool
	MaxPacketSize       string // MySQL only, e.g. "512M"
}

// LayoutSettings controls where artifacts are written.
type LayoutSettings struct {
	BaseDir    string
	TimeSubdir bool
}

// RetentionPolicy defines how long dated backup directories are kept.
type RetentionPolicy struct {
	BaseDir string
	Days    int
	Exclude []string // directories never removed, such as the one the current run wrote to
}
