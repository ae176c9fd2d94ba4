package models

import "time"

// TargetKind distinguishes what a DatabaseTarget dumps.
type TargetKind string

// Target kinds.
const (
	TargetDatabase TargetKind = "database"
	TargetCombined TargetKind = "combined"
	TargetGlobals  TargetKind = "globals"
)

// Artifact base names for the synthetic targets.
const (
	CombinedDumpName = "dump"
	GlobalsDumpName  = "_globals"
)

// DatabaseTarget is one unit of work producing exactly one DumpArtifact.
type DatabaseTarget struct {
	Kind TargetKind
	Name string
}

// CombinedTarget returns the synthetic "all databases" target.
func CombinedTarget() DatabaseTarget {
	return DatabaseTarget{Kind: TargetCombined, Name: CombinedDumpName}
}

// GlobalsTarget returns the PostgreSQL cluster-globals target.
func GlobalsTarget() DatabaseTarget {
	return DatabaseTarget{Kind: TargetGlobals, Name: GlobalsDumpName}
}

// DatabaseNamed returns a target for a single database.
func DatabaseNamed(name string) DatabaseTarget {
	return DatabaseTarget{Kind: TargetDatabase, Name: name}
}

// ClusterWide reports whether the target is produced by a cluster-wide dump tool.
func (t DatabaseTarget) ClusterWide() bool {
	return t.Kind == TargetCombined || t.Kind == TargetGlobals
}

// DumpArtifact is the local file produced for one target.
type DumpArtifact struct {
	Path                string
	Engine              Engine
	Compressed          bool
	Verified            bool
	CompressionVerified bool
	SizeBytes           int64
}

// TargetState is a step of the per-target dump lifecycle.
type TargetState string

// Target lifecycle states.
const (
	StatePending          TargetState = "PENDING"
	StateDumped           TargetState = "DUMPED"
	StateVerified         TargetState = "VERIFIED"
	StateCompressed       TargetState = "COMPRESSED"
	StateCompressVerified TargetState = "COMPRESS_VERIFIED"
	StateDone             TargetState = "DONE"
	StateFailed           TargetState = "FAILED"
)

// TargetOutcome records what happened to one target.
type TargetOutcome struct {
	Target   DatabaseTarget
	State    TargetState
	Artifact DumpArtifact
	ExitCode int
	Output   string
	Duration time.Duration
	Error    error
}

// Advance moves the outcome to the given state unless it already failed.
func (o *TargetOutcome) Advance(state TargetState) {
	if o.State == StateFailed {
		return
	}
	o.State = state
}

// Fail marks the outcome as failed with the given exit code.
func (o *TargetOutcome) Fail(code int, err error) {
	o.State = StateFailed
	o.ExitCode = code
	o.Error = err
}

// Succeeded reports whether the target reached DONE.
func (o *TargetOutcome) Succeeded() bool {
	return o.State == StateDone
}

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitConnection = 255
)

// RunOutcome aggregates the result of a whole invocation.
type RunOutcome struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Targets   []*TargetOutcome
	Retention *RetentionResult // nil when the sweep did not run
	Fatal     error            // set when the run aborted before finishing all targets
	FatalCode int
}

// Abort records a fatal error that stopped the run.
func (r *RunOutcome) Abort(code int, err error) {
	r.FatalCode = code
	r.Fatal = err
}

// ExitCode returns the process exit code for the run: the fatal code when the run
// aborted, otherwise the last non-zero per-target code.
func (r *RunOutcome) ExitCode() int {
	if r.Fatal != nil {
		if r.FatalCode == 0 {
			return ExitFailure
		}
		return r.FatalCode
	}

	code := ExitOK
	for _, t := range r.Targets {
		if t.State == StateFailed {
			if t.ExitCode != 0 {
				code = t.ExitCode
			} else {
				code = ExitFailure
			}
		}
	}
	return code
}

// Failed returns the outcomes of targets that did not finish.
func (r *RunOutcome) Failed() []*TargetOutcome {
	var failed []*TargetOutcome
	for _, t := range r.Targets {
		if !t.Succeeded() {
			failed = append(failed, t)
		}
	}
	return failed
}
