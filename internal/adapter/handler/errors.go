package handler

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/storefront/internal/core/domain"
)

type errorMapping struct {
	status    int
	code      codes.Code
	errorCode string
	message   string
	// expose is the sentinel whose detail callers may see; nil hides it.
	expose    error
}

// mapError picks the transport representation of a core error. InvalidState
// never exposes its detail to callers.
func mapError(err error) errorMapping {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return errorMapping{http.StatusBadRequest, codes.InvalidArgument, "invalid_request", "", domain.ErrInvalidRequest}
	case errors.Is(err, domain.ErrDuplicateRequest):
		return errorMapping{http.StatusConflict, codes.AlreadyExists, "duplicate_request", "request with this idempotency key is in progress", nil}
	case errors.Is(err, domain.ErrNotFound):
		return errorMapping{http.StatusNotFound, codes.NotFound, "not_found", "", domain.ErrNotFound}
	case errors.Is(err, domain.ErrForbidden):
		return errorMapping{http.StatusForbidden, codes.PermissionDenied, "forbidden", "", domain.ErrForbidden}
	case errors.Is(err, domain.ErrInvalidState):
		return errorMapping{http.StatusBadRequest, codes.InvalidArgument, "bad_request", "request cannot be processed", nil}
	case errors.Is(err, domain.ErrInsufficientFunds):
		return errorMapping{http.StatusPaymentRequired, codes.FailedPrecondition, "insufficient_funds", "wallet balance is too low", nil}
	case errors.Is(err, domain.ErrInsufficientStock):
		return errorMapping{http.StatusConflict, codes.FailedPrecondition, "insufficient_stock", "not enough stock", nil}
	case errors.Is(err, domain.ErrConflict):
		return errorMapping{http.StatusConflict, codes.Aborted, "conflict", "conflicting write, retry", nil}
	case errors.Is(err, domain.ErrTransient):
		return errorMapping{http.StatusServiceUnavailable, codes.Unavailable, "unavailable", "temporary storage failure, retry", nil}
	}
	return errorMapping{http.StatusInternalServerError, codes.Internal, "internal_error", "internal error", nil}
}

func (m errorMapping) messageFor(err error) string {
	if m.expose != nil {
		return detailOf(err, m.expose)
	}
	return m.message
}

// detailOf returns the text of the error that wraps sentinel directly, such as
// "not found: address 9", dropping outer context like placement stages.
func detailOf(err, sentinel error) string {
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		inner := x.Unwrap()
		if inner == sentinel {
			return err.Error()
		}
		if inner != nil {
			return detailOf(inner, sentinel)
		}
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if inner == sentinel {
				return err.Error()
			}
			if errors.Is(inner, sentinel) {
				return detailOf(inner, sentinel)
			}
		}
	}
	return sentinel.Error()
}
