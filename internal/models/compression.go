package models

import "time"

// Compression selects the local compressor; at most one may be enabled.
type Compression struct {
	Bzip2 bool
	XZ    bool
}

// Algorithm returns the selected algorithm, or AlgorithmNone.
func (c Compression) Algorithm() Algorithm {
	switch {
	case c.XZ:
		return AlgorithmXZ
	case c.Bzip2:
		return AlgorithmBzip2
	default:
		return AlgorithmNone
	}
}

// Enabled reports whether any compression was requested.
func (c Compression) Enabled() bool {
	return c.Algorithm() != AlgorithmNone
}

// Algorithm is a compression tool invoked on finished artifacts.
type Algorithm string

// Compression algorithms.
const (
	AlgorithmNone  Algorithm = ""
	AlgorithmBzip2 Algorithm = "bzip2"
	AlgorithmXZ    Algorithm = "xz"
)

func (a Algorithm) String() string {
	if a == AlgorithmNone {
		return "none"
	}
	return string(a)
}

// Binary returns the executable implementing the algorithm.
func (a Algorithm) Binary() string {
	return string(a)
}

// Suffix returns the extension appended to compressed artifacts.
func (a Algorithm) Suffix() string {
	switch a {
	case AlgorithmBzip2:
		return ".bz2"
	case AlgorithmXZ:
		return ".xz"
	default:
		return ""
	}
}

// CompressionResult holds the result of compressing one artifact.
type CompressionResult struct {
	SourcePath     string
	CompressedPath string
	Algorithm      Algorithm
	SizeBytes      int64
	Verified       bool
	Duration       time.Duration
	Error          error
}
