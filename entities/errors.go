package entities

import "errors"

var ErrStoreEntityNotFound = errors.New("store resource not found")

// Chain source page outcomes. Both are reported by the source as plain text bodies.
var (
	ErrPageOutOfRange   = errors.New("start index out of range")
	ErrMisalignedOffset = errors.New("start index must be a multiple of the page size")
)

var (
	// ErrRemoteIO marks transport level failures talking to the chain source. It is the only retryable kind.
	ErrRemoteIO = errors.New("remote chain source i/o failure")

	ErrPaginationProtocol = errors.New("pagination protocol violation")
	ErrPaginationOverrun  = errors.New("block exceeds page ceiling")
	ErrInsufficientData   = errors.New("reached chain origin before quota was met")

	// ErrUnitMismatch is returned when feature vectors and the fitted pipeline use different value units.
	ErrUnitMismatch = errors.New("feature unit mismatch")
)
