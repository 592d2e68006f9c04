package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/models"
	"github.com/cafepass/ledger/internal/models/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the only entry point permitted to change an account balance.
// Every credit/debit persists the balance change and the matching
// transaction record together; no partial state is ever visible to readers.
type Service struct {
	store  interfaces.LedgerStore
	events interfaces.EventPublisher // optional
	logger *slog.Logger

	muMap map[string]*sync.Mutex // per-account serialization
	mapMu sync.Mutex             // protects the muMap itself
}

// NewService builds a ledger service on top of a store. publisher may be
// nil; event publishing is best-effort either way.
func NewService(store interfaces.LedgerStore, publisher interfaces.EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		events: publisher,
		logger: logger,
		muMap:  make(map[string]*sync.Mutex),
	}
}

func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[accountID]; !exists {
		s.muMap[accountID] = &sync.Mutex{}
	}
	return s.muMap[accountID]
}

// Credit adds amount to the account and records the transaction.
// idempotencyKey deduplicates retries; a replay returns the originally
// recorded transaction with Replayed set instead of applying again.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal, description, idempotencyKey string) (models.Transaction, error) {
	return s.post(ctx, accountID, amount, models.KindCredit, description, idempotencyKey)
}

// Debit removes amount from the account and records the transaction. Fails
// with InsufficientBalanceError when amount exceeds the current balance;
// the check and the deduction are evaluated against the same snapshot.
func (s *Service) Debit(ctx context.Context, accountID string, amount decimal.Decimal, description, idempotencyKey string) (models.Transaction, error) {
	return s.post(ctx, accountID, amount, models.KindDebit, description, idempotencyKey)
}

func (s *Service) post(ctx context.Context, accountID string, amount decimal.Decimal, kind models.TransactionKind, description, idempotencyKey string) (models.Transaction, error) {
	if !models.ValidAmount(amount) {
		return models.Transaction{}, models.ErrInvalidAmount
	}

	// Serialize per account; operations on different accounts proceed
	// independently.
	mu := s.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if idempotencyKey != "" {
		prev, found, err := s.store.FindByIdempotencyKey(ctx, accountID, idempotencyKey)
		if err != nil {
			return models.Transaction{}, err
		}
		if found {
			prev.Replayed = true
			return prev, nil
		}
	}

	tx := models.Transaction{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		Amount:         amount,
		Kind:           kind,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	newBalance, err := s.apply(ctx, tx)
	if err != nil {
		return models.Transaction{}, err
	}

	s.publish(ctx, tx, newBalance)
	return tx, nil
}

// apply commits the balance change and the log append as one unit. Stores
// that support it do this in a single database transaction; otherwise the
// two primitives are paired with a compensating reversal on append failure.
func (s *Service) apply(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	if atomic, ok := s.store.(interfaces.AtomicLedgerStore); ok {
		return atomic.ApplyTransaction(ctx, tx)
	}

	delta := tx.SignedAmount()
	newBalance, err := s.store.AdjustBalance(ctx, tx.AccountID, delta, nil)
	if err != nil {
		return decimal.Zero, err
	}

	if err := s.store.Append(ctx, tx); err != nil {
		if _, revErr := s.store.AdjustBalance(ctx, tx.AccountID, delta.Neg(), nil); revErr != nil {
			// Real money is now unaccounted for; surface loudly.
			s.logger.Error("compensating reversal failed",
				"account_id", tx.AccountID,
				"transaction_id", tx.ID,
				"append_error", err,
				"reversal_error", revErr,
			)
			return decimal.Zero, fmt.Errorf("%w: append failed (%v), reversal failed (%v)", models.ErrCriticalInconsistency, err, revErr)
		}
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Service) publish(ctx context.Context, tx models.Transaction, balance decimal.Decimal) {
	if s.events == nil {
		return
	}
	evt := events.TransactionCompleted{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Kind:          string(tx.Kind),
		Balance:       balance,
		Description:   tx.Description,
		OccurredAt:    tx.CreatedAt,
	}
	if err := s.events.Publish(ctx, events.TopicTransactionCompleted, tx.AccountID, evt); err != nil {
		s.logger.Warn("failed to publish transaction event", "transaction_id", tx.ID, "error", err)
	}
}

// Account returns the account's current state.
func (s *Service) Account(ctx context.Context, accountID string) (models.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// History returns the account's transactions newest first.
func (s *Service) History(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, accountID, limit, offset)
}
