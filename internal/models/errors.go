package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a backup run.
type ErrorKind string

// Error kinds.
const (
	ErrorKindConfiguration ErrorKind = "CONFIGURATION_ERROR"
	ErrorKindConnection    ErrorKind = "CONNECTION_ERROR"
	ErrorKindCommand       ErrorKind = "COMMAND_ERROR"
	ErrorKindVerification  ErrorKind = "VERIFICATION_ERROR"
	ErrorKindCompression   ErrorKind = "COMPRESSION_ERROR"
	ErrorKindRetention     ErrorKind = "RETENTION_ERROR"
)

// BackupError is a classified failure, optionally tied to a target and carrying the
// output captured from the failing command.
type BackupError struct {
	Kind    ErrorKind
	Target  string
	Message string
	Output  string
	Cause   error
}

func (e *BackupError) Error() string {
	msg := e.Message
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", e.Target, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// ForTarget returns a copy of the error attributed to the named target.
func (e *BackupError) ForTarget(name string) *BackupError {
	c := *e
	c.Target = name
	return &c
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindConfiguration, Message: message, Cause: cause}
}

// NewConnectionError creates a transport/connection error.
func NewConnectionError(message string, output string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindConnection, Message: message, Output: output, Cause: cause}
}

// NewCommandError creates a remote command error.
func NewCommandError(message string, output string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindCommand, Message: message, Output: output, Cause: cause}
}

// NewVerificationError creates a dump verification error.
func NewVerificationError(message string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindVerification, Message: message, Cause: cause}
}

// NewCompressionError creates a compression error.
func NewCompressionError(message string, output string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindCompression, Message: message, Output: output, Cause: cause}
}

// NewRetentionError creates a retention sweep error.
func NewRetentionError(message string, cause error) *BackupError {
	return &BackupError{Kind: ErrorKindRetention, Message: message, Cause: cause}
}

// IsKind reports whether err is, or wraps, a BackupError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *BackupError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
