// Package retention removes dated backup directories past their retention age.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Service defines the interface for retention sweeps.
type Service interface {
	Sweep(policy models.RetentionPolicy) (*models.RetentionResult, error)
}

// Impl implements the retention Service interface.
type Impl struct {
	fs     afero.Fs
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new retention service on the OS filesystem.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		fs:     afero.NewOsFs(),
		now:    time.Now,
		logger: logger,
	}
}

// NewWithFs creates a new retention service with a custom filesystem and clock (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs, now func() time.Time) *Impl {
	return &Impl{
		fs:     fs,
		now:    now,
		logger: logger,
	}
}

// Sweep deletes every immediate subdirectory of policy.BaseDir whose modification time
// is strictly older than policy.Days days. Files, younger directories and those listed
// in policy.Exclude are kept.
// Individual removal failures are collected and do not stop the sweep.
func (s *Impl) Sweep(policy models.RetentionPolicy) (*models.RetentionResult, error) {
	start := s.now()
	result := &models.RetentionResult{}

	if policy.Days < 0 {
		result.Error = models.NewRetentionError(fmt.Sprintf("invalid retention of %d days", policy.Days), nil)
		return result, nil
	}

	if policy.Days == 0 {
		s.logger.Warn().Str("dir", policy.BaseDir).Msg("retention of 0 days removes every earlier backup directory")
	}

	cutoff := start.Add(-time.Duration(policy.Days) * 24 * time.Hour)
	excluded := make(map[string]bool, len(policy.Exclude))
	for _, dir := range policy.Exclude {
		excluded[filepath.Clean(dir)] = true
	}

	s.logger.Info().
		Str("dir", policy.BaseDir).
		Int("days", policy.Days).
		Time("cutoff", cutoff).
		Msg("applying retention policy")

	entries, err := afero.ReadDir(s.fs, policy.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("dir", policy.BaseDir).Msg("backup directory does not exist, nothing to sweep")
			return result, nil
		}
		result.Error = models.NewRetentionError("failed to list backup directory", err)
		return result, nil
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(policy.BaseDir, entry.Name())
		if excluded[path] || !entry.ModTime().Before(cutoff) {
			result.Kept++
			continue
		}

		if err := s.fs.RemoveAll(path); err != nil {
			s.logger.Error().Err(err).Str("dir", path).Msg("failed to remove expired backup directory")
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}

		s.logger.Debug().Str("dir", path).Time("modified", entry.ModTime()).Msg("removed expired backup directory")
		result.Removed = append(result.Removed, path)
	}

	if len(errs) > 0 {
		result.Error = models.NewRetentionError("failed to remove expired directories", errors.Join(errs...))
	}

	result.Duration = s.now().Sub(start)

	s.logger.Info().
		Int("removed", len(result.Removed)).
		Int("kept", result.Kept).
		Msg("retention policy applied")

	return result, nil
}
