package models

// VerifyResult holds the outcome of checking a dump's completion marker.
type VerifyResult struct {
	Path     string
	Verified bool
	Skipped  bool   // archive formats that cannot be checked textually
	Trailer  string // the inspected line or bytes, for diagnostics
	Error    error
}
