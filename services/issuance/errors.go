package issuance

import (
	"errors"

	"loyalty-checkin/pkg/errutil"
)

var (
	ErrOutOfStock    = errors.New("prize out of stock")
	ErrPrizeInactive = errors.New("prize inactive")
	ErrPrizeNotFound = errors.New("prize not found")
	ErrTransient     = errors.New("transient persistence failure")
)

// ToAPIError wraps engine errors in the transport error type. The sentinel
// stays reachable through errors.Is.
func ToAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOutOfStock):
		return errutil.Conflict("prize out of stock", ErrOutOfStock)
	case errors.Is(err, ErrPrizeInactive):
		return errutil.UnprocessableEntity("prize is not active", ErrPrizeInactive)
	case errors.Is(err, ErrPrizeNotFound):
		return errutil.NotFound("prize not found", ErrPrizeNotFound)
	case errors.Is(err, ErrTransient):
		return errutil.Unavailable("please retry", ErrTransient)
	default:
		return errutil.Internal("failed to issue coupon", err)
	}
}
