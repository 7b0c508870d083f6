package model

import "errors"

var (
	// ErrAnalysisNotFound is returned when no record exists for an owner key.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrStaleTransition is returned when a compare-and-set status write finds the
	// record in a different state than the caller expected.
	ErrStaleTransition = errors.New("analysis status changed concurrently")
)
