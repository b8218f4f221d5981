package models

import "errors"

// Error taxonomy for the acquisition pipeline. Session and storage failures
// are fatal to the run; everything else is recovered per item or per page.
var (
	// ErrAuthentication aborts the whole run. Not retried automatically:
	// a failed login may reflect a lockout or a markup change that retrying
	// would not fix.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNavigationTimeout ends pagination early; links collected so far
	// are still processed.
	ErrNavigationTimeout = errors.New("navigation timed out")

	// ErrFetch marks a per-item download failure; the item is skipped.
	ErrFetch = errors.New("download failed")

	// ErrValidation marks a payload that is not a PDF; the item is skipped.
	ErrValidation = errors.New("payload is not a PDF")

	// ErrParse marks a soft field-extraction failure; the item is still
	// persisted with absent fields.
	ErrParse = errors.New("document parse failed")

	// ErrStorage is fatal: without a working store the dedup and
	// persistence guarantees collapse.
	ErrStorage = errors.New("storage failure")
)
