package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyApproved   = errors.New("transaction already approved")
	ErrInvalidTransition = errors.New("invalid approval transition")
	ErrStorage           = errors.New("storage error")

	errVersionConflict = errors.New("balance version conflict")
	errAlreadyAccrued  = errors.New("earnings already credited")
)

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storageErr tags a driver error with ErrStorage. Errors that already carry a
// ledger kind are returned unchanged.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrAlreadyApproved, ErrInvalidTransition, ErrStorage} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
