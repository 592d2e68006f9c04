package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role classifies an account holder. Roles only affect what the admin UI
// lets a holder do; the ledger treats all roles the same.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin, RoleGuest, RoleCustomer:
		return true
	}
	return false
}

// Account holds the identity and current prepaid balance of a card holder.
// Balance is only ever mutated through the ledger service and is always >= 0.
type Account struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"` // short code printed on the card, e.g. PRE-8F2K
	DisplayName string          `json:"display_name"`
	Phone       string          `json:"phone,omitempty"`
	Role        Role            `json:"role"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
}
