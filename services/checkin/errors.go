package checkin

import (
	"errors"

	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/streak"
)

var (
	ErrInvalidRequest          = errors.New("user id and branch id are required")
	ErrBranchNotFound          = errors.New("branch not found")
	ErrBranchInactive          = errors.New("branch is inactive")
	ErrBranchDailyLimitReached = errors.New("branch reached its daily check-in limit")
)

func ToAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidRequest):
		return errutil.BadRequest(ErrInvalidRequest.Error(), ErrInvalidRequest)
	case errors.Is(err, ErrInvalidCursor):
		return errutil.BadRequest(ErrInvalidCursor.Error(), err)
	case errors.Is(err, ErrBranchNotFound):
		return errutil.NotFound(ErrBranchNotFound.Error(), ErrBranchNotFound)
	case errors.Is(err, ErrBranchInactive):
		return errutil.UnprocessableEntity(ErrBranchInactive.Error(), ErrBranchInactive)
	case errors.Is(err, ErrBranchDailyLimitReached):
		return errutil.TooManyRequest(ErrBranchDailyLimitReached.Error(), ErrBranchDailyLimitReached)
	case errors.Is(err, streak.ErrCheckInNotAfterLast):
		return errutil.Conflict("check-in day precedes the last recorded check-in", err)
	case errors.Is(err, issuance.ErrTransient):
		return errutil.Unavailable("check-in could not be recorded, please retry", issuance.ErrTransient)
	default:
		return errutil.Internal("failed to process check-in", err)
	}
}
