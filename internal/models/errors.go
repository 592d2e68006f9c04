package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates the account id is unknown.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists indicates an account with the same id already exists.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidAmount indicates an amount that is not positive or carries
	// more than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most two decimal places")
	// ErrCredentialConflict indicates the account already has an active tag.
	ErrCredentialConflict = errors.New("account already has an active credential")
	// ErrCredentialNotFound indicates an unknown or revoked tag.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrDuplicateTag indicates a generated tag value collided with an
	// existing binding. Callers retry generation; this never reaches the API.
	ErrDuplicateTag = errors.New("tag already in use")
	// ErrConcurrentModification indicates an optimistic precondition no
	// longer held. The operation is safe to retry after a re-read.
	ErrConcurrentModification = errors.New("account was modified concurrently")
	// ErrCriticalInconsistency indicates a compensating reversal failed and
	// the balance and transaction log may have diverged. Never retried.
	ErrCriticalInconsistency = errors.New("balance and transaction log may have diverged")
)

// InsufficientBalanceError is returned when a debit exceeds the current
// balance. It carries the balance so the point of sale can display it.
type InsufficientBalanceError struct {
	Balance decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s available", e.Balance.StringFixed(2))
}
