package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same uniqueness semantics as the
// PostgreSQL schema: unique username, unique email, one pending role request
// per (user, role).
type memStore struct {
	mu       sync.Mutex
	users    []*User
	requests []*RoleRequest
	nextUser int64
	nextReq  int64
}

func newMemStore() *memStore { return &memStore{} }

func (s *memStore) Users() UserStore               { return (*memUserStore)(s) }
func (s *memStore) RoleRequests() RoleRequestStore { return (*memRequestStore)(s) }

type memUserStore memStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users = append(s.users, &cp)
	return nil
}

func (s *memUserStore) FindByID(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) UpdateRole(_ context.Context, id int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			u.Role = role
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *memUserStore) SetTOTPSecret(_ context.Context, id int64, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			u.TOTPSecret = secret
			u.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

type memRequestStore memStore

func (s *memRequestStore) Create(_ context.Context, rr *RoleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.UserID == rr.UserID && existing.RequestedRole == rr.RequestedRole &&
			existing.Status == RequestPending {
			return ErrConflict
		}
	}
	s.nextReq++
	rr.ID = s.nextReq
	rr.CreatedAt = time.Now()
	cp := *rr
	s.requests = append(s.requests, &cp)
	return nil
}

func (s *memRequestStore) Find(_ context.Context, id int64) (*RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.requests {
		if rr.ID == id {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memRequestStore) ListByStatus(_ context.Context, status string) ([]*RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RoleRequest
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Status == status {
			cp := *s.requests[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memRequestStore) CountByStatus(_ context.Context, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rr := range s.requests {
		if rr.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *memRequestStore) Decide(_ context.Context, id int64, status, comment string, decidedBy *int64) (*RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.requests {
		if rr.ID == id && rr.Status == RequestPending {
			now := time.Now()
			rr.Status = status
			rr.Comment = comment
			rr.DecidedBy = decidedBy
			rr.DecidedAt = &now
			cp := *rr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
