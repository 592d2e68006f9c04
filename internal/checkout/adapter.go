// Package checkout translates a completed point-of-sale cart into a single
// ledger debit against a prepaid card. Cash/UPI/card tenders are settled
// out of band and never reach the ledger.
package checkout

import (
	"context"

	"github.com/cafepass/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// TagResolver maps a card tag to its account.
type TagResolver interface {
	Resolve(ctx context.Context, tag string) (string, error)
}

// Debiter charges an account through the ledger.
type Debiter interface {
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, description, idempotencyKey string) (models.Transaction, error)
}

// Adapter is the point-of-sale entry point into the ledger.
type Adapter struct {
	resolver TagResolver
	ledger   Debiter
}

func NewAdapter(resolver TagResolver, ledger Debiter) *Adapter {
	return &Adapter{resolver: resolver, ledger: ledger}
}

// Charge debits the full cart total from the account bound to tag. A charge
// either fully succeeds or is fully rejected; there is no split tender.
// Fails with ErrCredentialNotFound for unknown or revoked tags, and with
// InsufficientBalanceError (carrying the current balance, for display at
// the register) when the card cannot cover the total.
func (a *Adapter) Charge(ctx context.Context, tag string, total decimal.Decimal, description, idempotencyKey string) (models.Transaction, error) {
	accountID, err := a.resolver.Resolve(ctx, tag)
	if err != nil {
		return models.Transaction{}, err
	}
	return a.ledger.Debit(ctx, accountID, total, description, idempotencyKey)
}
