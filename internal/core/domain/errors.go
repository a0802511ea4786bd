package domain

import "errors"

// Sentinel errors for the checkout core.
// Handlers map these to transport status codes.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrTransient         = errors.New("transient storage failure")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrInvalidRequest    = errors.New("invalid request")
)

// IsRetryable reports whether resubmitting the same request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}
