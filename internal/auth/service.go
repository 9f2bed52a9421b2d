package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RoleAssigner mirrors the identity-provider administrative API used by the
// role-approval workflow: assign a realm role to the user holding an email.
type RoleAssigner interface {
	AssignRealmRole(ctx context.Context, email, role string) error
}

// Service implements the account workflows around the gateway core: local
// registration and login, second-factor enrollment, and the role-change
// request state machine.
type Service struct {
	store Store
	codec *LocalTokenCodec
	idp   RoleAssigner
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithRoleAssigner wires the identity-provider admin client used on approval.
func WithRoleAssigner(assigner RoleAssigner) ServiceOption {
	return func(s *Service) { s.idp = assigner }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the account service.
func NewService(store Store, codec *LocalTokenCodec, opts ...ServiceOption) *Service {
	s := &Service{store: store, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is a freshly issued local session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Register creates a local account and opens a session. A duplicate email
// or username surfaces as ErrConflict.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return nil, Session{}, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}

	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, Session{}, fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, Session{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, Session{}, err
	}
	user := &User{
		Username:       username,
		Email:          email,
		HashedPassword: hash,
		Role:           RoleClient,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, Session{}, fmt.Errorf("%w: user already exists", ErrConflict)
		}
		return nil, Session{}, err
	}

	session, err := s.openSession(user)
	if err != nil {
		return nil, Session{}, err
	}
	return user, session, nil
}

// Login verifies local credentials and opens a session. Once a second factor
// is enrolled, a valid one-time code is required.
func (s *Service) Login(ctx context.Context, email, password, otpCode string) (*User, Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Session{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
		}
		return nil, Session{}, err
	}
	if err := VerifyPassword(user.HashedPassword, password); err != nil {
		return nil, Session{}, fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	}
	if user.TOTPSecret != "" && !ValidateTOTP(user.TOTPSecret, otpCode) {
		return nil, Session{}, fmt.Errorf("%w: second factor required", ErrUnauthenticated)
	}

	session, err := s.openSession(user)
	if err != nil {
		return nil, Session{}, err
	}
	return user, session, nil
}

func (s *Service) openSession(user *User) (Session, error) {
	token, expiresAt, err := s.codec.Issue(user.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt}, nil
}

// SetupSecondFactor enrolls TOTP for the account and returns the otpauth
// provisioning URL.
func (s *Service) SetupSecondFactor(ctx context.Context, user *User) (string, error) {
	secret, url, err := GenerateTOTPSecret(user.Email)
	if err != nil {
		return "", err
	}
	if err := s.store.Users().SetTOTPSecret(ctx, user.ID, secret); err != nil {
		return "", err
	}
	user.TOTPSecret = secret
	return url, nil
}

// VerifySecondFactor checks a one-time code against the enrolled secret.
func (s *Service) VerifySecondFactor(user *User, code string) bool {
	return ValidateTOTP(user.TOTPSecret, code)
}

// requestableRoles are the roles a user may ask for; admin is never
// self-service.
var requestableRoles = map[string]struct{}{
	RoleAnalyst: {},
	RoleManager: {},
}

// RequestRole files a role-change request. A second pending request for the
// same (user, role) pair is rejected with ErrConflict.
func (s *Service) RequestRole(ctx context.Context, userID int64, role string) (*RoleRequest, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if _, ok := requestableRoles[role]; !ok {
		return nil, fmt.Errorf("%w: role must be one of analyst, manager", ErrInvalidInput)
	}
	rr := &RoleRequest{
		UserID:        userID,
		RequestedRole: role,
		Status:        RequestPending,
	}
	if err := s.store.RoleRequests().Create(ctx, rr); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: request already pending", ErrConflict)
		}
		return nil, err
	}
	return rr, nil
}

// ListRoleRequests returns requests in the given status, newest first.
func (s *Service) ListRoleRequests(ctx context.Context, status string) ([]*RoleRequest, error) {
	return s.store.RoleRequests().ListByStatus(ctx, status)
}

// CountRoleRequests counts requests in the given status.
func (s *Service) CountRoleRequests(ctx context.Context, status string) (int, error) {
	return s.store.RoleRequests().CountByStatus(ctx, status)
}

// ApproveRoleRequest assigns the requested realm role in the identity
// provider and marks the request approved. The stored role is not touched
// here: it synchronizes from the provider on the next bearer resolution.
func (s *Service) ApproveRoleRequest(ctx context.Context, id, reviewerID int64) (*RoleRequest, error) {
	rr, err := s.store.RoleRequests().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if rr.Status != RequestPending {
		return nil, fmt.Errorf("%w: request already decided", ErrNotFound)
	}
	user, err := s.store.Users().FindByID(ctx, rr.UserID)
	if err != nil {
		return nil, err
	}
	if s.idp != nil {
		if err := s.idp.AssignRealmRole(ctx, user.Email, rr.RequestedRole); err != nil {
			return nil, fmt.Errorf("assign realm role: %w", err)
		}
	}
	return s.store.RoleRequests().Decide(ctx, id, RequestApproved, "", &reviewerID)
}

// RejectRoleRequest marks the request rejected with an optional comment.
func (s *Service) RejectRoleRequest(ctx context.Context, id int64, comment string, reviewerID int64) (*RoleRequest, error) {
	return s.store.RoleRequests().Decide(ctx, id, RequestRejected, comment, &reviewerID)
}
