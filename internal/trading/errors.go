package trading

import (
	"errors"
	"fmt"

	"confianza/internal/lifecycle"
)

// Request errors. Every error returned by Executor and Opener matches exactly
// one of these with errors.Is.
var (
	// ErrUnauthenticated is returned when no requester identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidRequest is returned for malformed or incomplete requests.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrForbidden is returned when the requester is not a trade participant.
	ErrForbidden = errors.New("not a trade participant")

	// ErrNotFound is returned when the trade does not exist.
	ErrNotFound = errors.New("trade not found")

	// ErrInvalidTransition is returned when the requested status is not
	// reachable or it is not the requester's turn. See
	// lifecycle.InvalidTransitionError for details.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition

	// ErrPersistence is returned when storage fails after validation passed.
	// Callers may retry.
	ErrPersistence = errors.New("persistence failure")
)

// ErrMissingFields is returned when a required request field is empty.
var ErrMissingFields = fmt.Errorf("%w: missing required fields", ErrInvalidRequest)

// Trade opening errors.
var (
	// ErrOfferNotFound is returned when opening against an unknown offer.
	ErrOfferNotFound = errors.New("offer not found")

	ErrOfferUnavailable      = fmt.Errorf("%w: offer is not active", ErrInvalidRequest)
	ErrSelfTrade             = fmt.Errorf("%w: you cannot trade with your own offer", ErrInvalidRequest)
	ErrInvalidAmount         = fmt.Errorf("%w: please enter a valid amount", ErrInvalidRequest)
	ErrAmountOutOfRange      = fmt.Errorf("%w: amount outside offer limits", ErrInvalidRequest)
	ErrInsufficientLiquidity = fmt.Errorf("%w: insufficient crypto available for this trade amount", ErrInvalidRequest)
)
