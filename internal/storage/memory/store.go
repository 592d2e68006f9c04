// Package memory provides an in-memory Store used by tests and by
// deployments without a configured database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Store keeps accounts, transactions and credential bindings in memory.
// A single mutex guards all state, which makes ApplyTransaction trivially
// atomic: no other operation can observe the balance without its matching
// transaction record.
type Store struct {
	mu sync.Mutex

	accounts     map[string]models.Account
	transactions map[string][]models.Transaction // per account, append order
	idempotency  map[string]models.Transaction   // accountID+"\x00"+key
	bindings     map[string]models.CredentialBinding
	activeTags   map[string]string // accountID -> active tag
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string][]models.Transaction),
		idempotency:  make(map[string]models.Transaction),
		bindings:     make(map[string]models.CredentialBinding),
		activeTags:   make(map[string]string),
	}
}

func idemKey(accountID, key string) string {
	return accountID + "\x00" + key
}

// --- AccountStore ---

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter interfaces.AccountFilter) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := strings.ToLower(filter.Query)
	var result []models.Account
	for _, account := range s.accounts {
		if filter.Role != "" && account.Role != filter.Role {
			continue
		}
		if query != "" && !matchesQuery(account, query) {
			continue
		}
		result = append(result, account)
	}

	// Newest accounts first, matching the admin listing.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func matchesQuery(account models.Account, query string) bool {
	return strings.Contains(strings.ToLower(account.DisplayName), query) ||
		strings.Contains(strings.ToLower(account.Number), query) ||
		strings.Contains(account.Phone, query)
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return models.ErrAccountExists
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, expected *decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustBalanceLocked(id, delta, expected)
}

func (s *Store) adjustBalanceLocked(id string, delta decimal.Decimal, expected *decimal.Decimal) (decimal.Decimal, error) {
	account, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, models.ErrAccountNotFound
	}
	if expected != nil && !account.Balance.Equal(*expected) {
		return decimal.Zero, models.ErrConcurrentModification
	}

	newBalance := account.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, &models.InsufficientBalanceError{Balance: account.Balance}
	}

	account.Balance = newBalance
	s.accounts[id] = account
	return newBalance, nil
}

// --- TransactionLog ---

func (s *Store) Append(ctx context.Context, tx models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendLocked(tx)
}

func (s *Store) appendLocked(tx models.Transaction) error {
	if !models.ValidAmount(tx.Amount) {
		return models.ErrInvalidAmount
	}
	if tx.IdempotencyKey != "" {
		if _, exists := s.idempotency[idemKey(tx.AccountID, tx.IdempotencyKey)]; exists {
			return models.ErrConcurrentModification
		}
		s.idempotency[idemKey(tx.AccountID, tx.IdempotencyKey)] = tx
	}
	s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], tx)
	return nil
}

func (s *Store) History(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.transactions[accountID]

	// Newest first.
	reversed := make([]models.Transaction, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		reversed = append(reversed, stored[i])
	}

	if offset >= len(reversed) {
		return nil, nil
	}
	reversed = reversed[offset:]
	if limit > 0 && limit < len(reversed) {
		reversed = reversed[:limit]
	}
	return reversed, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, accountID, key string) (models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, found := s.idempotency[idemKey(accountID, key)]
	return tx, found, nil
}

// --- AtomicLedgerStore ---

// ApplyTransaction adjusts the balance and appends the record under one
// lock acquisition, so readers never see one without the other.
func (s *Store) ApplyTransaction(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBalance, err := s.adjustBalanceLocked(tx.AccountID, tx.SignedAmount(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.appendLocked(tx); err != nil {
		// Undo before releasing the lock; nothing else can have observed
		// the intermediate balance.
		s.accounts[tx.AccountID] = withBalance(s.accounts[tx.AccountID], newBalance.Sub(tx.SignedAmount()))
		return decimal.Zero, err
	}
	return newBalance, nil
}

func withBalance(account models.Account, balance decimal.Decimal) models.Account {
	account.Balance = balance
	return account
}

// --- CredentialStore ---

func (s *Store) Insert(ctx context.Context, binding models.CredentialBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bindings[binding.Tag]; exists {
		return models.ErrDuplicateTag
	}
	if _, active := s.activeTags[binding.AccountID]; active {
		return models.ErrCredentialConflict
	}
	s.bindings[binding.Tag] = binding
	s.activeTags[binding.AccountID] = binding.Tag
	return nil
}

func (s *Store) Revoke(ctx context.Context, accountID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, active := s.activeTags[accountID]
	if !active {
		return false, nil
	}
	binding := s.bindings[tag]
	binding.RevokedAt = &at
	s.bindings[tag] = binding
	delete(s.activeTags, accountID)
	return true, nil
}

func (s *Store) Resolve(ctx context.Context, tag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	binding, ok := s.bindings[tag]
	if !ok || !binding.Active() {
		return "", models.ErrCredentialNotFound
	}
	return binding.AccountID, nil
}

func (s *Store) ActiveByAccount(ctx context.Context, accountID string) (models.CredentialBinding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, active := s.activeTags[accountID]
	if !active {
		return models.CredentialBinding{}, false, nil
	}
	return s.bindings[tag], true, nil
}

// Compile-time checks: Store satisfies every storage contract.
var (
	_ interfaces.AtomicLedgerStore = (*Store)(nil)
	_ interfaces.CredentialStore   = (*Store)(nil)
)
