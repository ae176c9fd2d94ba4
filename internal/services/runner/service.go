// Package runner orchestrates a dump run: wake, credentials, targets, retention.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/fgeck/goremote-dump/internal/services/command"
	"github.com/fgeck/goremote-dump/internal/services/compress"
	"github.com/fgeck/goremote-dump/internal/services/credentials"
	"github.com/fgeck/goremote-dump/internal/services/retention"
	"github.com/fgeck/goremote-dump/internal/services/ssh"
	"github.com/fgeck/goremote-dump/internal/services/telegram"
	"github.com/fgeck/goremote-dump/internal/services/verify"
	"github.com/fgeck/goremote-dump/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service defines the interface for the dump runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.RunOutcome, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	transport   ssh.Service
	credentials credentials.Service
	verifier    verify.Service
	compressor  compress.Service
	sweeper     retention.Service
	wolSvc      wol.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	transport := ssh.New(logger)
	return &Impl{
		transport:   transport,
		credentials: credentials.New(logger, transport),
		verifier:    verify.New(logger),
		compressor:  compress.New(logger),
		sweeper:     retention.New(logger),
		wolSvc:      wol.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Services groups the collaborators of the runner.
type Services struct {
	Transport   ssh.Service
	Credentials credentials.Service
	Verifier    verify.Service
	Compressor  compress.Service
	Sweeper     retention.Service
	WOL         wol.Service
	Telegram    telegram.Service
}

// NewWithServices creates a new runner service with custom services and clock (for testing).
func NewWithServices(logger zerolog.Logger, services Services, now func() time.Time) *Impl {
	return &Impl{
		transport:   services.Transport,
		credentials: services.Credentials,
		verifier:    services.Verifier,
		compressor:  services.Compressor,
		sweeper:     services.Sweeper,
		wolSvc:      services.WOL,
		telegramSvc: services.Telegram,
		logger:      logger,
		now:         now,
	}
}

// Run executes the complete dump workflow and reports what happened to every target.
// A connection failure aborts the run with exit code 255 and skips the retention sweep.
// Any other failure of a single target is recorded and the run continues.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.RunOutcome, error) {
	outcome := &models.RunOutcome{
		RunID:     uuid.NewString(),
		StartTime: s.now(),
	}
	logger := s.logger.With().Str("run_id", outcome.RunID).Logger()

	logger.Info().
		Str("engine", cfg.Engine.String()).
		Str("host", cfg.Connection.SSHHost).
		Str("dir", cfg.Layout.BaseDir).
		Msg("starting dump run")

	defer func() {
		outcome.Duration = s.now().Sub(outcome.StartTime)
		if cfg.Telegram != nil {
			s.sendNotification(ctx, cfg, outcome, logger)
		}
	}()

	if cfg.WOL != nil {
		if err := s.runWOL(ctx, cfg.WOL, logger); err != nil {
			outcome.Abort(models.ExitFailure, err)
			logger.Error().Err(err).Msg("wake-on-LAN failed")
			return outcome, nil
		}
	}

	bundle, err := s.credentials.Acquire(ctx, cfg)
	if err != nil {
		outcome.Abort(preflightCode(err), fmt.Errorf("credential setup failed: %w", err))
		logger.Error().Err(err).Msg("credential setup failed")
		return outcome, nil
	}
	defer bundle.Release(ctx)

	builder := command.New(cfg, bundle.RemoteName)

	targets, err := s.resolveTargets(ctx, cfg, builder, logger)
	if err != nil {
		outcome.Abort(preflightCode(err), err)
		logger.Error().Err(err).Msg("failed to determine databases to dump")
		return outcome, nil
	}

	dir := artifactDir(cfg.Layout, outcome.StartTime)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		outcome.Abort(models.ExitFailure, fmt.Errorf("failed to create backup directory: %w", err))
		logger.Error().Err(err).Str("dir", dir).Msg("failed to create backup directory")
		return outcome, nil
	}

	logger.Info().Int("targets", len(targets)).Str("dir", dir).Msg("dumping databases")

	for _, target := range targets {
		result, fatal := s.processTarget(ctx, cfg, builder, target, dir, logger)
		outcome.Targets = append(outcome.Targets, result)
		if fatal != nil {
			outcome.Abort(models.ExitConnection, fatal)
			logger.Error().
				Err(fatal).
				Str("target", target.Name).
				Msg("connection to remote host lost, aborting run")
			return outcome, nil
		}
	}

	policy := cfg.Retention
	policy.Exclude = []string{currentDayDir(cfg.Layout, outcome.StartTime)}
	outcome.Retention = s.runRetention(policy, logger)

	failed := outcome.Failed()
	event := logger.Info()
	if len(failed) > 0 {
		event = logger.Warn()
	}
	event.
		Int("targets", len(outcome.Targets)).
		Int("failed", len(failed)).
		Int("exit_code", outcome.ExitCode()).
		Dur("duration", s.now().Sub(outcome.StartTime)).
		Msg("dump run finished")

	return outcome, nil
}

// processTarget drives one target through dump, verification and compression. The
// returned error is non-nil only for connection failures, which abort the run.
func (s *Impl) processTarget(
	ctx context.Context,
	cfg models.BackupConfig,
	builder command.Builder,
	target models.DatabaseTarget,
	dir string,
	logger zerolog.Logger,
) (*models.TargetOutcome, error) {
	start := s.now()
	outcome := &models.TargetOutcome{Target: target, State: models.StatePending}
	log := logger.With().Str("target", target.Name).Logger()
	defer func() { outcome.Duration = s.now().Sub(start) }()

	path := filepath.Join(dir, target.Name+"."+cfg.Engine.Extension(cfg.Compression.Enabled()))
	outcome.Artifact = models.DumpArtifact{Path: path, Engine: cfg.Engine}

	cmd, err := builder.Dump(target, path)
	if err != nil {
		outcome.Fail(models.ExitFailure, models.NewConfigurationError("failed to build dump command", err).ForTarget(target.Name))
		log.Error().Err(err).Msg("failed to build dump command")
		return outcome, nil
	}

	log.Info().Str("output", path).Msg("dumping")

	res, err := s.transport.Run(ctx, cfg.Connection, cmd)
	if err != nil {
		outcome.Fail(models.ExitFailure, models.NewCommandError("dump failed", "", err).ForTarget(target.Name))
		log.Error().Err(err).Msg("dump failed")
		return outcome, nil
	}
	outcome.Output = res.Output
	if res.ConnectionFailed() {
		connErr := res.Error
		if connErr == nil {
			connErr = models.NewConnectionError("connection failed", res.Output, nil)
		}
		outcome.Fail(models.ExitConnection, attribute(connErr, target.Name))
		return outcome, outcome.Error
	}
	if res.Error != nil {
		outcome.Fail(res.ExitCode, attribute(res.Error, target.Name))
		log.Error().
			Err(res.Error).
			Int("exit_code", res.ExitCode).
			Str("output", res.Output).
			Msg("dump command failed")
		return outcome, nil
	}
	outcome.Advance(models.StateDumped)
	outcome.Artifact.SizeBytes = fileSize(path)

	compressed := cfg.Compression.Enabled()
	vr, err := s.verifier.Verify(path, cfg.Engine, target.ClusterWide(), compressed)
	if err != nil {
		outcome.Fail(models.ExitFailure, models.NewVerificationError("verification failed", err).ForTarget(target.Name))
		log.Error().Err(err).Msg("verification failed")
		return outcome, nil
	}
	if vr.Error != nil {
		outcome.Fail(models.ExitFailure, attribute(vr.Error, target.Name))
		log.Error().Err(vr.Error).Str("trailer", vr.Trailer).Str("output", res.Output).Msg("dump is incomplete")
		return outcome, nil
	}
	outcome.Artifact.Verified = true
	outcome.Advance(models.StateVerified)

	if compressed {
		if !s.compress(ctx, cfg.Compression.Algorithm(), outcome, log) {
			return outcome, nil
		}
	}

	outcome.Advance(models.StateDone)
	log.Info().
		Str("output", outcome.Artifact.Path).
		Int64("size_bytes", outcome.Artifact.SizeBytes).
		Bool("compressed", outcome.Artifact.Compressed).
		Bool("verification_skipped", vr.Skipped).
		Msg("dump completed")

	return outcome, nil
}

// compress runs the compression stage for a verified artifact and reports whether the
// target may proceed to DONE. On failure the uncompressed artifact stays in place.
func (s *Impl) compress(ctx context.Context, algo models.Algorithm, outcome *models.TargetOutcome, log zerolog.Logger) bool {
	cr, err := s.compressor.Compress(ctx, outcome.Artifact.Path, algo)
	if err == nil && cr.Error == nil {
		outcome.Advance(models.StateCompressed)
		cr, err = s.compressor.VerifyCompressed(ctx, cr)
	}
	if err != nil {
		outcome.Fail(models.ExitFailure, models.NewCompressionError("compression failed", "", err).ForTarget(outcome.Target.Name))
		log.Error().Err(err).Msg("compression failed")
		return false
	}
	if cr.Error != nil {
		outcome.Fail(models.ExitFailure, attribute(cr.Error, outcome.Target.Name))
		log.Error().Err(cr.Error).Str("algorithm", string(algo)).Msg("compression failed, keeping uncompressed dump")
		return false
	}
	outcome.Advance(models.StateCompressVerified)

	if err := s.compressor.Promote(ctx, cr); err != nil {
		outcome.Fail(models.ExitFailure, models.NewCompressionError("failed to promote compressed dump", "", err).ForTarget(outcome.Target.Name))
		log.Error().Err(err).Msg("failed to remove uncompressed dump")
		return false
	}

	outcome.Artifact.Path = cr.CompressedPath
	outcome.Artifact.SizeBytes = cr.SizeBytes
	outcome.Artifact.Compressed = true
	outcome.Artifact.CompressionVerified = true
	return true
}

// resolveTargets turns the dump options into the ordered list of targets.
func (s *Impl) resolveTargets(
	ctx context.Context,
	cfg models.BackupConfig,
	builder command.Builder,
	logger zerolog.Logger,
) ([]models.DatabaseTarget, error) {
	var targets []models.DatabaseTarget

	switch {
	case cfg.Dump.Combined:
		return []models.DatabaseTarget{models.CombinedTarget()}, nil
	case cfg.Dump.Database != "":
		targets = []models.DatabaseTarget{models.DatabaseNamed(cfg.Dump.Database)}
	default:
		names, err := s.listDatabases(ctx, cfg, builder, logger)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			targets = append(targets, models.DatabaseNamed(name))
		}
	}

	if cfg.Engine == models.EnginePostgres {
		targets = append([]models.DatabaseTarget{models.GlobalsTarget()}, targets...)
	}

	return targets, nil
}

func (s *Impl) listDatabases(
	ctx context.Context,
	cfg models.BackupConfig,
	builder command.Builder,
	logger zerolog.Logger,
) ([]string, error) {
	cmd, err := builder.ListDatabases()
	if err != nil {
		return nil, models.NewConfigurationError("failed to build list command", err)
	}

	res, err := s.transport.Run(ctx, cfg.Connection, cmd)
	if err != nil {
		return nil, models.NewCommandError("failed to list databases", "", err)
	}
	if res.Error != nil {
		logger.Error().Str("output", res.Output).Int("exit_code", res.ExitCode).Msg("listing databases failed")
		return nil, res.Error
	}

	var names []string
	for _, line := range strings.Split(res.Output, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if command.IsSystemSchema(cfg.Engine, name, cfg.Dump.IgnoreSystemSchemas) {
			logger.Debug().Str("database", name).Msg("skipping system schema")
			continue
		}
		names = append(names, name)
	}

	if len(names) == 0 {
		logger.Warn().Msg("no databases found on remote host")
	}

	return names, nil
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig, logger zerolog.Logger) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.HostReady {
		return fmt.Errorf("host did not become ready after WOL")
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Int("attempts", result.Attempts).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runRetention(policy models.RetentionPolicy, logger zerolog.Logger) *models.RetentionResult {
	result, err := s.sweeper.Sweep(policy)
	if err != nil {
		logger.Error().Err(err).Msg("retention sweep failed")
		return &models.RetentionResult{Error: models.NewRetentionError("retention sweep failed", err)}
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("retention sweep failed")
	}
	return result
}

func (s *Impl) sendNotification(ctx context.Context, cfg models.BackupConfig, outcome *models.RunOutcome, logger zerolog.Logger) {
	msg := models.TelegramMessage{
		Success:   outcome.ExitCode() == models.ExitOK,
		RunID:     outcome.RunID,
		Host:      cfg.Connection.SSHHost,
		Engine:    cfg.Engine,
		StartTime: outcome.StartTime,
		Duration:  outcome.Duration,
		ExitCode:  outcome.ExitCode(),
	}

	for _, t := range outcome.Targets {
		summary := models.TargetSummary{
			Name:      t.Target.Name,
			State:     t.State,
			SizeBytes: t.Artifact.SizeBytes,
		}
		if t.Error != nil {
			summary.Error = t.Error.Error()
		}
		msg.Targets = append(msg.Targets, summary)
	}
	if outcome.Retention != nil {
		msg.DirectoriesRemoved = len(outcome.Retention.Removed)
	}
	if outcome.Fatal != nil {
		msg.FatalError = outcome.Fatal.Error()
	}

	// The run context may already be cancelled by a signal.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}

	logger.Info().Msg("Telegram notification sent")
}

// artifactDir returns {base}/{YYYY-MM-DD}[/{HH:MM}] for the run's start time.
func artifactDir(layout models.LayoutSettings, start time.Time) string {
	dir := currentDayDir(layout, start)
	if layout.TimeSubdir {
		dir = filepath.Join(dir, start.Format("15:04"))
	}
	return dir
}

// currentDayDir is the dated directory below the base that holds this run's artifacts.
func currentDayDir(layout models.LayoutSettings, start time.Time) string {
	return filepath.Join(layout.BaseDir, start.Format("2006-01-02"))
}

// attribute ties a classified error to the target it happened on.
func attribute(err error, target string) error {
	var be *models.BackupError
	if errors.As(err, &be) {
		return be.ForTarget(target)
	}
	return err
}

func preflightCode(err error) int {
	if models.IsKind(err, models.ErrorKindConnection) {
		return models.ExitConnection
	}
	return models.ExitFailure
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
