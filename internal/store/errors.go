package store

import (
	"errors"
	"fmt"

	"fixdesk/backend/internal/domain"
)

// ClassifyWorkflowError wraps a rule violation reported by the domain package
// with the sentinel callers match on: bad input becomes ErrInvalidTransaction,
// a state that forbids the change becomes ErrConflict.
func ClassifyWorkflowError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrBadReceiptQty),
		errors.Is(err, domain.ErrUnknownOrderItem),
		errors.Is(err, domain.ErrUnknownStatus):
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	default:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
}
