package storage

import (
	"errors"
	"fmt"

	"noteprompt/internal/models"
)

// ErrInvalidViolation is returned when a violation is missing required fields.
var ErrInvalidViolation = errors.New("invalid violation")

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("storage is closed")

func validateViolation(v *models.Violation) error {
	switch {
	case v == nil:
		return fmt.Errorf("%w: nil", ErrInvalidViolation)
	case v.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidViolation)
	case v.Identifier == "":
		return fmt.Errorf("%w: identifier is required", ErrInvalidViolation)
	case v.Policy == "":
		return fmt.Errorf("%w: policy is required", ErrInvalidViolation)
	}
	return nil
}
