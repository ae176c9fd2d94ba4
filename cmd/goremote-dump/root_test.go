package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, 0},
		{"exit error", &exitError{code: 2, err: errors.New("dump failed")}, 2},
		{"wrapped exit error", fmt.Errorf("run: %w", &exitError{code: 255}), 255},
		{"connection error", models.NewConnectionError("connection failed", "", nil), 255},
		{"configuration error", models.NewConfigurationError("backup.dir is required", nil), 1},
		{"plain error", errors.New("unknown flag"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, exitCode(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 3", (&exitError{code: 3}).Error())

	cause := errors.New("dump failed")
	err := &exitError{code: 2, err: cause}
	assert.Equal(t, "dump failed", err.Error())
	assert.ErrorIs(t, err, cause)
}
