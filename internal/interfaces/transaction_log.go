package interfaces

import (
	"context"

	"github.com/cafepass/ledger/internal/models"
)

// TransactionLog is the append-only per-account history. Entries are never
// edited or deleted.
type TransactionLog interface {
	// Append inserts the transaction. No business validation beyond
	// amount > 0; balance enforcement belongs to the ledger service.
	Append(ctx context.Context, tx models.Transaction) error

	// History returns the account's transactions newest first. limit <= 0
	// means no limit.
	History(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error)

	// FindByIdempotencyKey returns the transaction previously recorded for
	// the (account, key) pair, if any.
	FindByIdempotencyKey(ctx context.Context, accountID, key string) (models.Transaction, bool, error)
}
