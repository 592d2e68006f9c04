package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the direction of a balance change.
type TransactionKind string

const (
	KindCredit TransactionKind = "credit"
	KindDebit  TransactionKind = "debit"
)

// Transaction is one immutable entry in an account's history. Amount is
// always the positive magnitude; the sign is carried by Kind. Corrections
// are new compensating transactions, never edits.
type Transaction struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           TransactionKind `json:"kind"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`

	// Replayed is set when the transaction was returned from an
	// idempotency-key match instead of a fresh apply. Not persisted.
	Replayed bool `json:"-"`
}

// SignedAmount returns the delta this transaction applies to the balance:
// positive for credits, negative for debits.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Kind == KindDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// ValidAmount reports whether d is usable as a monetary amount: strictly
// positive with at most two decimal places.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}
