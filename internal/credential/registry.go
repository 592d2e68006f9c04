// Package credential manages the lifecycle of RFID tags bound to accounts.
package credential

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/cafepass/ledger/internal/interfaces"
	"github.com/cafepass/ledger/internal/models"
)

const (
	tagPrefix   = "RFID-"
	tagAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tagLength   = 8

	// maxIssueAttempts bounds retries when a generated tag collides with an
	// existing binding. With 36^8 values a single retry is already rare.
	maxIssueAttempts = 5
)

// Registry owns the tag-to-account binding lifecycle: issue, revoke,
// resolve. At most one active binding exists per tag and per account;
// revoked tags are never reactivated.
type Registry struct {
	store    interfaces.CredentialStore
	accounts interfaces.AccountStore

	muMap map[string]*sync.Mutex // serializes issue/revoke per account
	mapMu sync.Mutex
}

func NewRegistry(store interfaces.CredentialStore, accounts interfaces.AccountStore) *Registry {
	return &Registry{
		store:    store,
		accounts: accounts,
		muMap:    make(map[string]*sync.Mutex),
	}
}

func (r *Registry) accountLock(accountID string) *sync.Mutex {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()

	if _, exists := r.muMap[accountID]; !exists {
		r.muMap[accountID] = &sync.Mutex{}
	}
	return r.muMap[accountID]
}

// Issue mints a fresh tag and binds it to the account. Fails with
// ErrCredentialConflict when the account already has an active binding and
// with ErrAccountNotFound for unknown accounts. Tag collisions are retried
// internally, never surfaced to the caller.
func (r *Registry) Issue(ctx context.Context, accountID string) (string, error) {
	mu := r.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.accounts.GetAccount(ctx, accountID); err != nil {
		return "", err
	}

	if _, active, err := r.store.ActiveByAccount(ctx, accountID); err != nil {
		return "", err
	} else if active {
		return "", models.ErrCredentialConflict
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		tag, err := newTag()
		if err != nil {
			return "", err
		}

		binding := models.CredentialBinding{
			Tag:       tag,
			AccountID: accountID,
			IssuedAt:  time.Now().UTC(),
		}
		switch err := r.store.Insert(ctx, binding); err {
		case nil:
			return tag, nil
		case models.ErrDuplicateTag:
			continue
		default:
			return "", err
		}
	}
	return "", fmt.Errorf("could not generate a unique tag after %d attempts", maxIssueAttempts)
}

// Revoke ends the account's active binding. Idempotent: revoking an
// account with no active binding is a no-op.
func (r *Registry) Revoke(ctx context.Context, accountID string) error {
	mu := r.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.accounts.GetAccount(ctx, accountID); err != nil {
		return err
	}

	_, err := r.store.Revoke(ctx, accountID, time.Now().UTC())
	return err
}

// Resolve maps an active tag to its account. Revoked and unknown tags both
// fail with ErrCredentialNotFound.
func (r *Registry) Resolve(ctx context.Context, tag string) (string, error) {
	return r.store.Resolve(ctx, tag)
}

// ActiveTag returns the account's active tag, or "" when none is issued.
func (r *Registry) ActiveTag(ctx context.Context, accountID string) (string, error) {
	binding, active, err := r.store.ActiveByAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !active {
		return "", nil
	}
	return binding.Tag, nil
}

// newTag generates a tag like RFID-8F2KQX1A: the format printed on the
// physical cafe cards.
func newTag() (string, error) {
	buf := make([]byte, tagLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = tagAlphabet[int(b)%len(tagAlphabet)]
	}
	return tagPrefix + string(buf), nil
}
