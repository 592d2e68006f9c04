package models

import "time"

// CredentialBinding ties a physical RFID tag to an account. A revoked
// binding is kept forever so its tag value can never be resolved or
// reissued; reissuing always mints a fresh tag.
type CredentialBinding struct {
	Tag       string     `json:"tag"`
	AccountID string     `json:"account_id"`
	IssuedAt  time.Time  `json:"issued_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the binding currently resolves at point of sale.
func (b CredentialBinding) Active() bool {
	return b.RevokedAt == nil
}
