// Package compress compresses verified dump artifacts with bzip2 or xz.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for compression operations.
type Service interface {
	Compress(ctx context.Context, src string, algo models.Algorithm) (*models.CompressionResult, error)
	VerifyCompressed(ctx context.Context, result *models.CompressionResult) (*models.CompressionResult, error)
	Promote(ctx context.Context, result *models.CompressionResult) error
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	// Execute runs name with args. When outputPath is set, stdout is written to that
	// file. The returned bytes hold stderr (and stdout when it was not redirected).
	Execute(ctx context.Context, outputPath string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a local command.
func (e *DefaultExecutor) Execute(ctx context.Context, outputPath string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if outputPath == "" {
		cmd.Stdout = &stderr
		if err := cmd.Run(); err != nil {
			return stderr.Bytes(), fmt.Errorf("%s failed: %w", name, err)
		}
		return stderr.Bytes(), nil
	}

	output, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	cmd.Stdout = output

	runErr := cmd.Run()
	closeErr := output.Close()
	if runErr != nil {
		return stderr.Bytes(), fmt.Errorf("%s failed: %w", name, runErr)
	}
	if closeErr != nil {
		return stderr.Bytes(), fmt.Errorf("failed to close output file: %w", closeErr)
	}

	return stderr.Bytes(), nil
}

// Impl implements the compress Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new compression service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new compression service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Compress writes src+suffix next to src. The source file is never touched; a failed
// attempt removes the partial compressed file.
func (s *Impl) Compress(ctx context.Context, src string, algo models.Algorithm) (*models.CompressionResult, error) {
	start := time.Now()
	result := &models.CompressionResult{
		SourcePath:     src,
		CompressedPath: src + algo.Suffix(),
		Algorithm:      algo,
	}

	if algo == models.AlgorithmNone {
		result.Error = models.NewCompressionError("no compression algorithm selected", "", nil)
		return result, nil
	}

	s.logger.Info().
		Str("source", src).
		Str("algorithm", string(algo)).
		Msg("compressing artifact")

	output, err := s.executor.Execute(ctx, result.CompressedPath, algo.Binary(), "-c", src)
	result.Duration = time.Since(start)
	if err != nil {
		_ = os.Remove(result.CompressedPath)
		result.Error = models.NewCompressionError("compression failed", string(output), err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(result.CompressedPath); err == nil {
		result.SizeBytes = info.Size()
	}

	s.logger.Debug().
		Str("output", result.CompressedPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("artifact compressed")

	return result, nil
}

// VerifyCompressed runs the algorithm's integrity self-test on the compressed file.
// A corrupt compressed file is removed so that only the original remains.
func (s *Impl) VerifyCompressed(ctx context.Context, result *models.CompressionResult) (*models.CompressionResult, error) {
	if result.Error != nil {
		return result, nil
	}

	output, err := s.executor.Execute(ctx, "", result.Algorithm.Binary(), "-t", result.CompressedPath)
	if err != nil {
		_ = os.Remove(result.CompressedPath)
		result.Error = models.NewCompressionError("integrity test failed", string(output), err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.Verified = true
	s.logger.Debug().Str("output", result.CompressedPath).Msg("compressed artifact verified")

	return result, nil
}

// Promote removes the uncompressed source once the compressed copy has been verified.
func (s *Impl) Promote(_ context.Context, result *models.CompressionResult) error {
	if !result.Verified {
		return fmt.Errorf("refusing to remove %s: compressed copy not verified", result.SourcePath)
	}

	if err := os.Remove(result.SourcePath); err != nil {
		return fmt.Errorf("failed to remove uncompressed artifact: %w", err)
	}

	s.logger.Info().
		Str("output", result.CompressedPath).
		Int64("size_bytes", result.SizeBytes).
		Msg("artifact compressed and verified")

	return nil
}
