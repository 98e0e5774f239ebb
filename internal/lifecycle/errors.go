package lifecycle

import (
	"errors"
)

// minRejectReasonLength is the shortest acceptable reject reason.
const minRejectReasonLength = 5

var (
	// ErrNotFoundInScope means the target row does not exist inside the
	// caller's tenant. Cross-tenant rows report the same error so their
	// existence is never confirmed.
	ErrNotFoundInScope = errors.New("not found")

	// ErrInvalidTransition means the compare-and-swap precondition failed:
	// the row's status no longer matches the expected source state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation means a malformed payload (missing field, short reject
	// reason, unknown role).
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate means a unique constraint (email, slug) was violated.
	ErrDuplicate = errors.New("duplicate resource")
)
