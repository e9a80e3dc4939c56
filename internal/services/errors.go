package services

import (
	"errors"

	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/store"
)

// classify turns store errors into the application taxonomy. notFound is
// used for store.ErrNotFound; errors already classified pass through.
func classify(err error, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrLockTimeout):
		return apperr.Wrap(apperr.ErrAccountLockTimeout, err)
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return apperr.Wrap(notFound, err)
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.ErrDuplicate, err)
	}
	return err
}
