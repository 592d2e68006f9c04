// Package postgres implements the storage contracts on database/sql with
// lib/pq. ApplyTransaction holds a row lock on the account for the span of
// the balance check, the update and the history insert, so concurrent
// debits against the same account serialize and cannot double-spend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- AccountStore ---

const accountColumns = `id, number, display_name, phone, role, balance, created_at`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Number, &a.DisplayName, &a.Phone, &a.Role, &a.Balance, &a.CreatedAt)
	return a, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, models.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter interfaces.AccountFilter) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var clauses []string
	var args []any

	if filter.Role != "" {
		args = append(args, string(filter.Role))
		clauses = append(clauses, `role = `+placeholder(len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		p := placeholder(len(args))
		clauses = append(clauses, `(display_name ILIKE `+p+` OR number ILIKE `+p+` OR phone ILIKE `+p+`)`)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, number, display_name, phone, role, balance, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Number, account.DisplayName, account.Phone,
		string(account.Role), account.Balance, account.CreatedAt,
	)
	if isUniqueViolation(err, "accounts_pkey") {
		return models.ErrAccountExists
	}
	return err
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, expected *decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := lockBalance(ctx, tx, id)
		if err != nil {
			return err
		}
		if expected != nil && !balance.Equal(*expected) {
			return models.ErrConcurrentModification
		}

		newBalance = balance.Add(delta)
		if newBalance.IsNegative() {
			return &models.InsufficientBalanceError{Balance: balance}
		}
		return setBalance(ctx, tx, id, newBalance)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// --- TransactionLog ---

func (s *Store) Append(ctx context.Context, tx models.Transaction) error {
	if !models.ValidAmount(tx.Amount) {
		return models.ErrInvalidAmount
	}
	return insertTransaction(ctx, s.db, tx)
}

func (s *Store) History(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	query := `SELECT id, account_id, amount, kind, description, COALESCE(idempotency_key, ''), created_at
	FROM transactions WHERE account_id = $1 ORDER BY created_at DESC, id`
	args := []any{accountID}

	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT ` + placeholder(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Description, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, accountID, key string) (models.Transaction, bool, error) {
	const query = `SELECT id, account_id, amount, kind, description, COALESCE(idempotency_key, ''), created_at
	FROM transactions WHERE account_id = $1 AND idempotency_key = $2`

	var t models.Transaction
	err := s.db.QueryRowContext(ctx, query, accountID, key).
		Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Description, &t.IdempotencyKey, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return t, true, nil
}

// --- AtomicLedgerStore ---

// ApplyTransaction performs the balance check, the balance mutation and
// the history insert inside one database transaction. The initial
// SELECT ... FOR UPDATE serializes concurrent operations on the account.
func (s *Store) ApplyTransaction(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	if !models.ValidAmount(tx.Amount) {
		return decimal.Zero, models.ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.withTx(ctx, func(dbTx *sql.Tx) error {
		balance, err := lockBalance(ctx, dbTx, tx.AccountID)
		if err != nil {
			return err
		}

		newBalance = balance.Add(tx.SignedAmount())
		if newBalance.IsNegative() {
			return &models.InsufficientBalanceError{Balance: balance}
		}

		if err := setBalance(ctx, dbTx, tx.AccountID, newBalance); err != nil {
			return err
		}
		return insertTransaction(ctx, dbTx, tx)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(dbTx); err != nil {
		dbTx.Rollback()
		return err
	}
	return dbTx.Commit()
}

func lockBalance(ctx context.Context, tx *sql.Tx, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, models.ErrAccountNotFound
	}
	return balance, err
}

func setBalance(ctx context.Context, tx *sql.Tx, accountID string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTransaction(ctx context.Context, db execer, tx models.Transaction) error {
	const query = `INSERT INTO transactions (id, account_id, amount, kind, description, idempotency_key, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var key sql.NullString
	if tx.IdempotencyKey != "" {
		key = sql.NullString{String: tx.IdempotencyKey, Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		tx.ID, tx.AccountID, tx.Amount, string(tx.Kind), tx.Description, key, tx.CreatedAt,
	)
	// A concurrent writer recorded the same idempotency key first; the
	// caller re-reads and returns the recorded transaction.
	if isUniqueViolation(err, "transactions_account_idempotency_key") {
		return models.ErrConcurrentModification
	}
	return err
}

// --- CredentialStore ---

func (s *Store) Insert(ctx context.Context, binding models.CredentialBinding) error {
	const query = `INSERT INTO credentials (tag, account_id, issued_at) VALUES ($1, $2, $3)`

	_, err := s.db.ExecContext(ctx, query, binding.Tag, binding.AccountID, binding.IssuedAt)
	if isUniqueViolation(err, "credentials_pkey") {
		return models.ErrDuplicateTag
	}
	if isUniqueViolation(err, "credentials_active_account") {
		return models.ErrCredentialConflict
	}
	return err
}

func (s *Store) Revoke(ctx context.Context, accountID string, at time.Time) (bool, error) {
	const query = `UPDATE credentials SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, accountID, at)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (s *Store) Resolve(ctx context.Context, tag string) (string, error) {
	const query = `SELECT account_id FROM credentials WHERE tag = $1 AND revoked_at IS NULL`

	var accountID string
	err := s.db.QueryRowContext(ctx, query, tag).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrCredentialNotFound
	}
	return accountID, err
}

func (s *Store) ActiveByAccount(ctx context.Context, accountID string) (models.CredentialBinding, bool, error) {
	const query = `SELECT tag, account_id, issued_at FROM credentials
	WHERE account_id = $1 AND revoked_at IS NULL`

	var b models.CredentialBinding
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&b.Tag, &b.AccountID, &b.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CredentialBinding{}, false, nil
	}
	if err != nil {
		return models.CredentialBinding{}, false, err
	}
	return b, true, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

var (
	_ interfaces.AtomicLedgerStore = (*Store)(nil)
	_ interfaces.CredentialStore   = (*Store)(nil)
)
