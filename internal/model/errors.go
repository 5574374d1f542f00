package model

import "errors"

// Error classes shared by the sync core. Callers wrap the underlying cause with one of these
// so the actor boundary can tell them apart with errors.Is.
var (
	// ErrSource marks a failure of the external ledger query source.
	ErrSource = errors.New("source error")
	// ErrStorage marks a persistence failure.
	ErrStorage = errors.New("storage error")
	// ErrValidation marks a malformed protocol payload. It never escapes the processor.
	ErrValidation = errors.New("validation error")
	// ErrConsistency marks stored records that reference missing data.
	ErrConsistency = errors.New("consistency error")
)
