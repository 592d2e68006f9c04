package interfaces

import (
	"context"

	"github.com/cafepass/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// AccountFilter narrows ListAccounts. Zero value matches everything.
type AccountFilter struct {
	Role  models.Role // exact match when non-empty
	Query string      // case-insensitive substring over name, number and phone
}

// AccountStore holds account identity and the current balance. Balance
// mutation goes through AdjustBalance (or the store's atomic apply); the
// store itself never writes history.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]models.Account, error)
	CreateAccount(ctx context.Context, account models.Account) error

	// AdjustBalance applies delta to the stored balance and returns the new
	// balance. Fails with InsufficientBalanceError when the result would go
	// negative, and with ErrConcurrentModification when expected is non-nil
	// and no longer matches the stored balance.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, expected *decimal.Decimal) (decimal.Decimal, error)
}
