package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopicTransactionCompleted is the default topic transaction events are
// published to after a ledger commit.
const TopicTransactionCompleted = "transaction_completed"

type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind"`
	Balance       decimal.Decimal `json:"balance"`
	Description   string          `json:"description"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
