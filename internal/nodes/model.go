// Package nodes manages accountability-node identities: the external
// organizations that, once verified by an operator, may submit ledger
// entries with a node-scoped API key.
package nodes

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a node registration.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// ErrNotFound is returned when a node lookup finds no matching record.
var ErrNotFound = errors.New("node not found")

// ErrUnauthorized is returned when an API key matches no verified node.
var ErrUnauthorized = errors.New("invalid or unverified node credentials")

// ErrValidation is returned when a registration is missing required fields.
var ErrValidation = errors.New("missing required registration fields")

// ErrAlreadyDecided is returned when a verification decision has already
// been made for the node; the transition is one-way per registration.
var ErrAlreadyDecided = errors.New("node verification already decided")

// Node is a registered accountability node. APIKey is the write credential;
// PublicKey is the node's base64 Ed25519 key used to verify entry signatures.
type Node struct {
	ID           uuid.UUID  `json:"id"`
	OrgName      string     `json:"org_name"`
	Country      string     `json:"country"`
	OrgType      string     `json:"org_type"`
	Jurisdiction string     `json:"jurisdiction"`
	ContactEmail string     `json:"contact_email"`
	PublicKey    string     `json:"public_key"`
	APIEndpoint  string     `json:"api_endpoint,omitempty"`
	APIKey       string     `json:"-"`
	Status       Status     `json:"status"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Verified reports whether the node may submit ledger entries.
func (n *Node) Verified() bool { return n.Status == StatusVerified }

// RegisterRequest is the payload for creating a node registration.
type RegisterRequest struct {
	OrgName      string `json:"org_name"      binding:"required"`
	Country      string `json:"country"       binding:"required"`
	OrgType      string `json:"org_type"      binding:"required"`
	Jurisdiction string `json:"jurisdiction"  binding:"required"`
	ContactEmail string `json:"contact_email" binding:"required,email"`
	PublicKey    string `json:"public_key"    binding:"required"`
	APIEndpoint  string `json:"api_endpoint"`
}
