package auth

import "context"

// UserStore persists identities. Create must map unique-constraint
// violations (username or email) to ErrConflict so callers can retry.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateRole(ctx context.Context, id int64, role string) error
	SetTOTPSecret(ctx context.Context, id int64, secret string) error
}

// RoleRequestStore persists role-change requests. Create must map the
// one-pending-per-(user,role) constraint to ErrConflict. Decide transitions
// only pending requests and reports ErrNotFound otherwise.
type RoleRequestStore interface {
	Create(ctx context.Context, rr *RoleRequest) error
	Find(ctx context.Context, id int64) (*RoleRequest, error)
	ListByStatus(ctx context.Context, status string) ([]*RoleRequest, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	Decide(ctx context.Context, id int64, status, comment string, decidedBy *int64) (*RoleRequest, error)
}

// Store bundles the persistence surface of the auth subsystem.
type Store interface {
	Users() UserStore
	RoleRequests() RoleRequestStore
}
