package users

import (
	"time"

	"github.com/google/uuid"
)

// Role controls what a user account may do against the ledger API.
type Role string

const (
	// RoleMember can read public ledger state and manage its own account.
	RoleMember Role = "member"
	// RoleOperator can decide node registrations and trigger anchoring.
	RoleOperator Role = "operator"
	// RoleAdmin can additionally manage other accounts' roles.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// AtLeast reports whether r carries the privileges of min.
func (r Role) AtLeast(min Role) bool {
	rank := map[Role]int{RoleMember: 0, RoleOperator: 1, RoleAdmin: 2}
	return rank[r] >= rank[min]
}

// User represents an authenticated console account.
type User struct {
	ID            uuid.UUID `json:"id"             db:"id"`
	Email         string    `json:"email"          db:"email"`
	PasswordHash  string    `json:"-"              db:"password_hash"`
	DisplayName   string    `json:"display_name"   db:"display_name"`
	Role          Role      `json:"role"           db:"role"`
	EmailVerified bool      `json:"email_verified" db:"email_verified"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"     db:"updated_at"`
}

// OAuthAccount links a user to an OAuth provider identity.
type OAuthAccount struct {
	ID         uuid.UUID `json:"id"          db:"id"`
	UserID     uuid.UUID `json:"user_id"     db:"user_id"`
	Provider   string    `json:"provider"    db:"provider"`
	ProviderID string    `json:"provider_id" db:"provider_id"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
