package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/goremote-dump/internal/config"
	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/fgeck/goremote-dump/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dump the configured databases",
	Long: `Execute the complete dump workflow:
1. Wake-on-LAN (if configured)
2. Upload a temporary credential file (MySQL, PostgreSQL)
3. Determine the databases to dump
4. Dump, verify and optionally compress each database
5. Remove expired backup directories
6. Send Telegram notification (if configured)

Exit codes: 0 success, 1 configuration or dump failure, 255 connection failure,
otherwise the exit status of the last failed remote dump command.`,
	RunE: runDump,
}

func init() {
	config.RegisterFlags(runCmd.Flags())
}

func runDump(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return &exitError{code: models.ExitFailure, err: fmt.Errorf("config file is required")}
	}

	// Load configuration
	parser := config.NewParser()
	if err := parser.BindFlags(cmd.Flags()); err != nil {
		log.Error().Err(err).Msg("failed to bind flags")
		return &exitError{code: models.ExitFailure, err: err}
	}
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return &exitError{code: models.ExitFailure, err: err}
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return &exitError{code: models.ExitFailure, err: err}
	}

	log.Info().
		Str("config", configFile).
		Str("engine", cfg.Engine.String()).
		Str("host", cfg.Connection.SSHHost).
		Str("dir", cfg.Layout.BaseDir).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc := runner.New(log.Logger)
	outcome, err := runnerSvc.Run(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("dump run failed")
		return &exitError{code: models.ExitFailure, err: err}
	}

	for _, target := range outcome.Failed() {
		event := log.Error().
			Str("target", target.Target.Name).
			Str("state", string(target.State)).
			Int("exit_code", target.ExitCode)
		if target.Output != "" {
			event = event.Str("output", target.Output)
		}
		event.Err(target.Error).Msg("target failed")
	}

	code := outcome.ExitCode()
	if code != models.ExitOK {
		if outcome.Fatal != nil {
			return &exitError{code: code, err: outcome.Fatal}
		}
		return &exitError{code: code, err: fmt.Errorf("%d of %d targets failed", len(outcome.Failed()), len(outcome.Targets))}
	}

	log.Info().
		Int("targets", len(outcome.Targets)).
		Dur("duration", outcome.Duration).
		Msg("dump run completed successfully")
	return nil
}
