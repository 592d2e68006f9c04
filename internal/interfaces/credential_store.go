package interfaces

import (
	"context"
	"time"

	"github.com/cafepass/ledger/internal/models"
)

// CredentialStore persists tag-to-account bindings. Tags are unique across
// all bindings ever created, active or revoked.
type CredentialStore interface {
	// Insert stores a new active binding. Fails with ErrDuplicateTag when
	// the tag value was ever used, and with ErrCredentialConflict when the
	// account already has an active binding.
	Insert(ctx context.Context, binding models.CredentialBinding) error

	// Revoke marks the account's active binding revoked at the given time.
	// Returns false when there was no active binding.
	Revoke(ctx context.Context, accountID string, at time.Time) (bool, error)

	// Resolve returns the account bound to an active tag. Fails with
	// ErrCredentialNotFound for unknown and revoked tags alike.
	Resolve(ctx context.Context, tag string) (string, error)

	// ActiveByAccount returns the account's active binding, if any.
	ActiveByAccount(ctx context.Context, accountID string) (models.CredentialBinding, bool, error)
}
