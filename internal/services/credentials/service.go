// Package credentials manages the short-lived database credential file placed on the
// remote host for the duration of a run.
package credentials

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/fgeck/goremote-dump/internal/services/command"
	"github.com/fgeck/goremote-dump/internal/services/ssh"
	"github.com/rs/zerolog"
)

const (
	filePattern    = "goremote-dump-*"
	releaseTimeout = 30 * time.Second
)

// Service defines the interface for acquiring credential bundles.
type Service interface {
	Acquire(ctx context.Context, cfg models.BackupConfig) (*Bundle, error)
}

// Bundle is an acquired credential file. The zero-name bundle is valid and means no
// file was needed; Release is then a no-op.
type Bundle struct {
	// RemoteName is the file name relative to the remote login's home directory.
	RemoteName string

	localPath string
	profile   models.ConnectionProfile
	remove    models.RemoteCommand
	transport ssh.Service
	logger    zerolog.Logger
	released  bool
}

// Impl implements the credentials Service interface.
type Impl struct {
	transport ssh.Service
	tempDir   string
	logger    zerolog.Logger
}

// New creates a credentials service uploading through transport.
func New(logger zerolog.Logger, transport ssh.Service) *Impl {
	return &Impl{
		transport: transport,
		logger:    logger,
	}
}

// NewWithTempDir creates a credentials service writing local files to dir (for testing).
func NewWithTempDir(logger zerolog.Logger, transport ssh.Service, dir string) *Impl {
	return &Impl{
		transport: transport,
		tempDir:   dir,
		logger:    logger,
	}
}

// Acquire writes the engine's credential file locally with mode 0600 and uploads it to
// the remote home directory. A bundle without a file is returned when the engine cannot
// use one or no password was configured. Errors are *models.BackupError values; a
// CONNECTION_ERROR means the remote host could not be reached.
func (s *Impl) Acquire(ctx context.Context, cfg models.BackupConfig) (*Bundle, error) {
	empty := &Bundle{}

	if !cfg.Connection.HasDBCredentials() {
		return empty, nil
	}
	if !cfg.Engine.SupportsCredentialFile() {
		s.logger.Warn().
			Str("engine", cfg.Engine.String()).
			Msg("database credentials are ignored for this engine")
		return empty, nil
	}

	content, err := render(cfg.Engine, cfg.Connection.DBUser, cfg.Connection.DBPassword)
	if err != nil {
		return nil, models.NewConfigurationError("failed to render credential file", err)
	}

	localPath, err := s.writeLocal(content)
	if err != nil {
		return nil, models.NewCommandError("failed to write credential file", "", err)
	}

	remoteName := filepath.Base(localPath)
	bundle := &Bundle{
		RemoteName: remoteName,
		localPath:  localPath,
		profile:    cfg.Connection,
		remove:     command.New(cfg, "").RemoveFile(remoteName),
		transport:  s.transport,
		logger:     s.logger,
	}

	result, err := s.transport.Upload(ctx, cfg.Connection, localPath, remoteName)
	if err != nil {
		bundle.releaseLocal()
		return nil, models.NewCommandError("failed to upload credential file", "", err)
	}
	if result.Error != nil {
		if result.ConnectionFailed() {
			bundle.releaseLocal()
		} else {
			bundle.Release(ctx)
		}
		return nil, result.Error
	}

	s.logger.Debug().
		Str("engine", cfg.Engine.String()).
		Str("remote", remoteName).
		Msg("credential file uploaded")

	return bundle, nil
}

func (s *Impl) writeLocal(content string) (string, error) {
	f, err := os.CreateTemp(s.tempDir, filePattern)
	if err != nil {
		return "", err
	}

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

// Release removes the remote and local copies. It is safe to call more than once and on
// an empty bundle. Failures are logged only.
func (b *Bundle) Release(ctx context.Context) {
	if b == nil || b.RemoteName == "" || b.released {
		return
	}
	b.released = true

	// Still clean up after the run context was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	result, err := b.transport.Run(ctx, b.profile, b.remove)
	switch {
	case err != nil:
		b.logger.Warn().Err(err).Str("remote", b.RemoteName).Msg("failed to remove remote credential file")
	case result.Error != nil:
		b.logger.Warn().
			Err(result.Error).
			Str("remote", b.RemoteName).
			Str("output", result.Output).
			Msg("failed to remove remote credential file")
	default:
		b.logger.Debug().Str("remote", b.RemoteName).Msg("remote credential file removed")
	}

	b.releaseLocal()
}

func (b *Bundle) releaseLocal() {
	b.released = true
	if b.localPath == "" {
		return
	}
	if err := os.Remove(b.localPath); err != nil && !os.IsNotExist(err) {
		b.logger.Warn().Err(err).Str("path", b.localPath).Msg("failed to remove local credential file")
	}
}

// render produces the credential file content understood by the engine's client tools.
func render(engine models.Engine, user, password string) (string, error) {
	switch engine {
	case models.EngineMySQL:
		return fmt.Sprintf("[client]\nuser=%s\npassword=%s\n",
			optionValue(user), optionValue(password)), nil
	case models.EnginePostgres:
		return fmt.Sprintf("*:*:*:%s:%s\n", pgpassField(user), pgpassField(password)), nil
	case models.EngineMongoDB:
		return "", fmt.Errorf("engine %s does not support credential files", engine)
	default:
		return "", fmt.Errorf("unsupported engine %q", engine)
	}
}

// optionValue double-quotes a MySQL option file value.
func optionValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// pgpassField escapes the separators of a .pgpass line.
func pgpassField(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	return r.Replace(v)
}
