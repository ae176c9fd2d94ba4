package models

import "time"

// RetentionResult holds the result of a retention sweep.
type RetentionResult struct {
	Removed  []string
	Kept     int
	Duration time.Duration
	Error    error
}
