package auth

import "time"

// Known roles, weakest to strongest. Role values are stored lower-case.
const (
	RoleClient  = "client"
	RoleAnalyst = "analyst"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Role request lifecycle.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// User is a portal identity. Accounts are created either by local
// registration or auto-provisioned on first sight of a valid bearer token.
// HashedPassword is empty for external-only accounts.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	Role           string    `json:"role"`
	TOTPSecret     string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoleRequest is a self-service request for a stronger role, reviewed by an
// administrator. At most one pending request may exist per (user, role).
type RoleRequest struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	RequestedRole string     `json:"requested_role"`
	Status        string     `json:"status"`
	Comment       string     `json:"comment,omitempty"`
	DecidedBy     *int64     `json:"decided_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}
