package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cafepass/ledger/internal/checkout"
	"github.com/cafepass/ledger/internal/credential"
	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/ledger"
	"github.com/cafepass/ledger/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// idempotencyHeader carries the client-generated token that deduplicates
// retried financial operations.
const idempotencyHeader = "Idempotency-Key"

// Handlers exposes the ledger over HTTP to the admin dashboard and the
// point of sale.
type Handlers struct {
	logger   *slog.Logger
	accounts interfaces.AccountStore
	ledger   *ledger.Service
	registry *credential.Registry
	checkout *checkout.Adapter
}

func NewHandlers(logger *slog.Logger, accounts interfaces.AccountStore, svc *ledger.Service, registry *credential.Registry, pos *checkout.Adapter) *Handlers {
	return &Handlers{
		logger:   logger,
		accounts: accounts,
		ledger:   svc,
		registry: registry,
		checkout: pos,
	}
}

type accountResponse struct {
	models.Account
	CredentialTag string `json:"credential_tag,omitempty"`
}

func (h *Handlers) accountWithTag(r *http.Request, account models.Account) accountResponse {
	tag, err := h.registry.ActiveTag(r.Context(), account.ID)
	if err != nil {
		h.logger.Warn("failed to look up credential tag", "account_id", account.ID, "error", err)
	}
	return accountResponse{Account: account, CredentialTag: tag}
}

func (h *Handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string      `json:"display_name"`
		Phone       string      `json:"phone"`
		Role        models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleCustomer
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	account := models.Account{
		ID:          uuid.New().String(),
		Number:      newAccountNumber(),
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Role:        req.Role,
		Balance:     decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.accounts.CreateAccount(r.Context(), account); err != nil {
		h.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, accountResponse{Account: account})
}

func (h *Handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.AccountFilter{
		Role:  models.Role(r.URL.Query().Get("role")),
		Query: r.URL.Query().Get("q"),
	}
	accounts, err := h.accounts.ListAccounts(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	response := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, h.accountWithTag(r, account))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.accountWithTag(r, account))
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	txs, err := h.ledger.History(r.Context(), mux.Vars(r)["id"], limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	respondJSON(w, http.StatusOK, txs)
}

type amountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handlers) credit(w http.ResponseWriter, r *http.Request) {
	h.postBalanceChange(w, r, h.ledger.Credit)
}

func (h *Handlers) debit(w http.ResponseWriter, r *http.Request) {
	h.postBalanceChange(w, r, h.ledger.Debit)
}

type ledgerOp func(ctx context.Context, accountID string, amount decimal.Decimal, description, idempotencyKey string) (models.Transaction, error)

func (h *Handlers) postBalanceChange(w http.ResponseWriter, r *http.Request, op ledgerOp) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := op(r.Context(), mux.Vars(r)["id"], req.Amount, req.Description, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	respondTransaction(w, tx)
}

func (h *Handlers) issueCredential(w http.ResponseWriter, r *http.Request) {
	tag, err := h.registry.Issue(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"tag": tag})
}

func (h *Handlers) revokeCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Revoke(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag         string          `json:"tag"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tag == "" {
		writeError(w, http.StatusBadRequest, "tag is required")
		return
	}

	tx, err := h.checkout.Charge(r.Context(), req.Tag, req.Amount, req.Description, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	respondTransaction(w, tx)
}

func respondTransaction(w http.ResponseWriter, tx models.Transaction) {
	status := http.StatusCreated
	if tx.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, tx)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. An
// insufficient-balance response carries the current balance so the caller
// can display it at the register.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *models.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   insufficient.Error(),
			"balance": insufficient.Balance,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrAccountNotFound), errors.Is(err, models.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrCredentialConflict), errors.Is(err, models.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrAccountExists):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrCriticalInconsistency):
		h.logger.Error("ledger inconsistency", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

const numberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newAccountNumber builds the short human-readable code shown on the card,
// e.g. PRE-8F2K.
func newAccountNumber() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return "PRE-" + string(buf)
}
