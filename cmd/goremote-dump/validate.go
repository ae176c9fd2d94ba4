package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fgeck/goremote-dump/internal/config"
	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/fgeck/goremote-dump/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without connecting to the remote host.
With --check-connection, also log in over SSH and run a no-op command.`,
	RunE: validateConfig,
}

var checkConnection bool

func init() {
	validateCmd.Flags().BoolVar(&checkConnection, "check-connection", false, "verify that the remote host accepts an SSH login")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return &exitError{code: models.ExitFailure, err: fmt.Errorf("config file is required")}
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return &exitError{code: models.ExitFailure, err: fmt.Errorf("config file not found: %s", configFile)}
	}

	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return &exitError{code: models.ExitFailure, err: err}
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return &exitError{code: models.ExitFailure, err: err}
	}

	out := cmd.OutOrStdout()

	// Print configuration summary
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Engine: %s\n", cfg.Engine)
	fmt.Fprintf(out, "  Remote: %s@%s:%d\n", cfg.Connection.SSHUser, cfg.Connection.SSHHost, cfg.Connection.SSHPort)
	fmt.Fprintf(out, "  Database host: %s\n", cfg.Connection.DBHost)
	fmt.Fprintf(out, "  Credentials: %v\n", cfg.Connection.HasDBCredentials())
	fmt.Fprintf(out, "  Backup dir: %s\n", cfg.Layout.BaseDir)
	fmt.Fprintf(out, "  Time subdirectory: %v\n", cfg.Layout.TimeSubdir)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Dump Selection:")
	switch {
	case cfg.Dump.Combined:
		fmt.Fprintln(out, "  Mode: combined")
	case cfg.Dump.Database != "":
		fmt.Fprintf(out, "  Mode: single database (%s)\n", cfg.Dump.Database)
	default:
		fmt.Fprintln(out, "  Mode: one artifact per database")
		fmt.Fprintf(out, "  Ignore system schemas: %v\n", cfg.Dump.IgnoreSystemSchemas)
	}
	fmt.Fprintf(out, "  Compression: %s\n", cfg.Compression.Algorithm())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Retention Policy:")
	fmt.Fprintf(out, "  Keep days: %d\n", cfg.Retention.Days)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Engine == models.EngineMongoDB && cfg.Connection.HasDBCredentials() {
		log.Warn().Msg("database credentials are ignored for MongoDB")
	}

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Fprintf(out, "  Poll Address: %s\n", cfg.WOL.PollAddress)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	if checkConnection {
		return verifyConnection(cmd.Context(), ssh.New(log.Logger), cfg.Connection, out)
	}

	return nil
}

// verifyConnection logs in to the remote host and reports the result. A transport
// failure exits with 255, any other failure with 1.
func verifyConnection(ctx context.Context, transport ssh.Service, profile models.ConnectionProfile, out io.Writer) error {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Connection to %s@%s:%d: ", profile.SSHUser, profile.SSHHost, profile.SSHPort)

	result, err := transport.TestConnection(ctx, profile)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return &exitError{code: models.ExitFailure, err: err}
	}
	if result.Error != nil {
		fmt.Fprintln(out, "FAILED")
		log.Error().Err(result.Error).Int("exit_code", result.ExitCode).Msg("connection check failed")
		code := result.ExitCode
		if code == 0 {
			code = models.ExitFailure
		}
		return &exitError{code: code, err: result.Error}
	}

	fmt.Fprintln(out, "OK")
	return nil
}
