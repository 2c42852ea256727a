package ledger

import (
	"errors"
	"fmt"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
)

var (
	// ErrNotFound is returned when a transaction or account does not exist,
	// is deleted, or belongs to another owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation is returned when the current state forbids the call,
	// such as merging an already merged transaction.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrStorageFailure is returned when an atomic balance update affects no rows.
	ErrStorageFailure = errors.New("storage failure")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
)

// accountError maps account store errors onto the ledger taxonomy. Access
// denied is reported as not found so other owners' accounts stay invisible.
func accountError(err error, accountID string) error {
	switch {
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrAccessDenied):
		return fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	case errors.Is(err, account.ErrBalanceOutOfRange):
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	case errors.Is(err, account.ErrUpdateFailed):
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	default:
		return err
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: transaction %s", ErrNotFound, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
