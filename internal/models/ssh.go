package models

// TransportResult holds the result of one remote invocation.
type TransportResult struct {
	Command  string // rendered command, for diagnostics
	ExitCode int
	Output   string // captured stdout+stderr, or only stderr when stdout was streamed
	Error    error  // *BackupError of kind CONNECTION_ERROR or COMMAND_ERROR
}

// ConnectionFailed reports whether the transport itself failed.
func (r *TransportResult) ConnectionFailed() bool {
	return r.ExitCode == ExitConnection
}

// Succeeded reports whether the remote command exited with status 0.
func (r *TransportResult) Succeeded() bool {
	return r.ExitCode == 0 && r.Error == nil
}
