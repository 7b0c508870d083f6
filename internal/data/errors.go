package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrOwnerRequired is returned when a repository call has no usable owner key.
	ErrOwnerRequired = errors.New("owner key is required")
	// ErrResultsRequired is returned when completing an analysis without a JSON result.
	ErrResultsRequired = errors.New("results must be a non-empty JSON document")
	// ErrBatchSizeRequired is returned when a sweep is requested without a positive batch size.
	ErrBatchSizeRequired = errors.New("batch size must be greater than zero")
	// ErrMaxAgeRequired is returned when a sweep is requested without a positive max age.
	ErrMaxAgeRequired = errors.New("max age must be greater than zero")
)
