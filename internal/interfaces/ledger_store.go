package interfaces

import (
	"context"

	"github.com/cafepass/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerStore is the persistence surface the ledger service operates on.
type LedgerStore interface {
	AccountStore
	TransactionLog
}

// AtomicLedgerStore is implemented by stores that can adjust a balance and
// append the matching transaction as one atomic unit (a single database
// transaction with the account row locked). The ledger service prefers this
// over the AdjustBalance/Append pair with compensating rollback.
type AtomicLedgerStore interface {
	LedgerStore

	// ApplyTransaction checks the balance against tx.SignedAmount(), mutates
	// it and appends tx, all against one snapshot. Returns the new balance.
	// Fails with InsufficientBalanceError, ErrAccountNotFound, or
	// ErrConcurrentModification when tx.IdempotencyKey was recorded by a
	// concurrent writer.
	ApplyTransaction(ctx context.Context, tx models.Transaction) (decimal.Decimal, error)
}
