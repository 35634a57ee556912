// File: internal/orchestrator/errors.go
// Failure taxonomy for a poll run. Only initialization failures and explicit
// cancellation propagate to the caller; everything else degrades gracefully
// and shows up in the run summary's error counters.
package orchestrator

import "errors"

var (
	// ErrInitialization aborts the run before any session work.
	ErrInitialization = errors.New("initialization failed")

	// ErrNavigationTimeout is recoverable at page level: treated as "no
	// next page" / "analysis incomplete".
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrResponseGeneration is scoped to one question; the run continues.
	ErrResponseGeneration = errors.New("response generation failed")

	// ErrSubmission is scoped to one question; the run continues.
	ErrSubmission = errors.New("response submission failed")

	// ErrChallengeUnhandled is logged and non-fatal.
	ErrChallengeUnhandled = errors.New("challenge present but no solver configured")
)
