package lending

import "errors"

var (
	// ErrNotFound indicates the referenced book, user, record, or
	// reservation does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a business-rule violation: book unavailable,
	// duplicate reservation, extension policy failed, reservation not
	// claimable.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input such as out-of-range days.
	ErrValidation = errors.New("validation failed")
)
