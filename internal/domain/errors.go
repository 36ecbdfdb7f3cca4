package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by the engine wraps exactly one of these
// so callers can branch with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotYetReady     = errors.New("not yet ready")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrLockHeld        = errors.New("lock already held")
)

// Refinements of the kinds above.
var (
	ErrOracleNotReady = fmt.Errorf("%w: oracle has not responded", ErrNotYetReady)
	ErrOracleFailed   = fmt.Errorf("%w: oracle reported an error", ErrUpstreamFailure)
	ErrTransferFailed = fmt.Errorf("%w: token transfer failed", ErrUpstreamFailure)
	ErrWindowClosed   = fmt.Errorf("%w: betting window closed", ErrInvalidState)
	ErrPoolNotOpen    = fmt.Errorf("%w: pool already canceled or closed", ErrInvalidState)
)

// Kind returns the name of the error kind err belongs to, or "internal" when
// it does not wrap any of the engine's kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotYetReady):
		return "not_yet_ready"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream_failure"
	default:
		return "internal"
	}
}
