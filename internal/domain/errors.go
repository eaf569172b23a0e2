package domain

import "errors"

var (
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrInvalidParserConfig is returned when a parser config fails validation
	// or one of its patterns does not compile
	ErrInvalidParserConfig = errors.New("invalid parser config")

	// ErrExtractionTimeout is returned when the generative provider exceeded
	// its deadline
	ErrExtractionTimeout = errors.New("generative extraction timed out")

	// ErrExtractionProvider is returned when the provider replied with
	// malformed or empty output
	ErrExtractionProvider = errors.New("generative provider error")

	// ErrExtractionFailed is returned after every extraction path has been
	// exhausted; the caller still receives the normalized text for manual entry
	ErrExtractionFailed = errors.New("extraction failed, manual review required")

	// ErrLowYield signals that a template parse produced near-zero items.
	// It is informational, never fatal.
	ErrLowYield = errors.New("template parse yield below threshold")

	// ErrLearningRejected is returned when a candidate template failed
	// re-parse validation and was discarded
	ErrLearningRejected = errors.New("candidate template rejected by validation")

	// ErrNoMatch is returned when no catalog product scores above the floor
	ErrNoMatch = errors.New("no catalog match above threshold")

	// ErrProfileNotFound is returned when no store profile matches
	ErrProfileNotFound = errors.New("store profile not found")

	// ErrVersionConflict is returned by the profile store when a concurrent
	// writer committed first (optimistic concurrency on sample count)
	ErrVersionConflict = errors.New("profile modified concurrently")
)
