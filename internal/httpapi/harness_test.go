package httpapi

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"socportal.org/internal/audit"
	"socportal.org/internal/auth"
	"socportal.org/internal/config"
)

// fakeStore backs the handlers with in-memory users and role requests,
// mirroring the schema's uniqueness rules.
type fakeStore struct {
	mu       sync.Mutex
	users    []*auth.User
	requests []*auth.RoleRequest
	nextUser int64
	nextReq  int64
}

func (s *fakeStore) Users() auth.UserStore               { return (*fakeUserStore)(s) }
func (s *fakeStore) RoleRequests() auth.RoleRequestStore { return (*fakeRequestStore)(s) }

type fakeUserStore fakeStore

func (s *fakeUserStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
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

func (s *fakeUserStore) FindByID(_ context.Context, id int64) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeUserStore) UpdateRole(_ context.Context, id int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			u.Role = role
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *fakeUserStore) SetTOTPSecret(_ context.Context, id int64, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			u.TOTPSecret = secret
			return nil
		}
	}
	return auth.ErrNotFound
}

type fakeRequestStore fakeStore

func (s *fakeRequestStore) Create(_ context.Context, rr *auth.RoleRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.UserID == rr.UserID && existing.RequestedRole == rr.RequestedRole &&
			existing.Status == auth.RequestPending {
			return auth.ErrConflict
		}
	}
	s.nextReq++
	rr.ID = s.nextReq
	rr.CreatedAt = time.Now()
	cp := *rr
	s.requests = append(s.requests, &cp)
	return nil
}

func (s *fakeRequestStore) Find(_ context.Context, id int64) (*auth.RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.requests {
		if rr.ID == id {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeRequestStore) ListByStatus(_ context.Context, status string) ([]*auth.RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.RoleRequest
	for i := len(s.requests) - 1; i >= 0; i-- {
		if s.requests[i].Status == status {
			cp := *s.requests[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeRequestStore) CountByStatus(_ context.Context, status string) (int, error) {
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

func (s *fakeRequestStore) Decide(_ context.Context, id int64, status, comment string, decidedBy *int64) (*auth.RoleRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rr := range s.requests {
		if rr.ID == id && rr.Status == auth.RequestPending {
			now := time.Now()
			rr.Status = status
			rr.Comment = comment
			rr.DecidedBy = decidedBy
			rr.DecidedAt = &now
			cp := *rr
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// fakeAuditStore collects appended entries and signals each write so tests
// can wait for the fire-and-forget goroutine.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*audit.Entry
	wrote   chan struct{}
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{wrote: make(chan struct{}, 16)}
}

func (s *fakeAuditStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	s.wrote <- struct{}{}
	return nil
}

func (s *fakeAuditStore) ListRecent(_ context.Context, limit int) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.entries[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeAuditStore) waitForWrite(t *testing.T) *audit.Entry {
	t.Helper()
	select {
	case <-s.wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit write")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MaxBodyBytes: 1 << 20},
		Auth: config.AuthConfig{
			Secret:         "test-session-secret",
			TokenTTL:       time.Hour,
			CookieSameSite: "lax",
		},
		CSRF: config.CSRFConfig{
			Secret:      "test-csrf-secret",
			TokenTTL:    time.Hour,
			ExemptPaths: []string{"/auth/login", "/auth/register"},
		},
	}
}

type testEnv struct {
	api   *API
	store *fakeStore
	audit *fakeAuditStore
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	store := &fakeStore{}
	auditStore := newFakeAuditStore()

	codec, err := auth.NewLocalTokenCodec(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		t.Fatal(err)
	}
	verifier := auth.NewClaimsVerifier(unreachableKeys{}, "http://keycloak:8080/realms/soc", "")
	resolver := auth.NewIdentityResolver(store.Users(), verifier, codec)
	svc := auth.NewService(store, codec)
	recorder := audit.NewRecorder(auditStore)

	api, err := New(cfg, svc, resolver, codec, store.Users(), recorder, nil, "test")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &testEnv{api: api, store: store, audit: auditStore, srv: srv}
}

// unreachableKeys stands in for the JWKS endpoint in tests that never
// present a bearer token.
type unreachableKeys struct{}

var errNoKeys = errors.New("no signing keys in test")

func (unreachableKeys) Key(context.Context, string) (*rsa.PublicKey, error) {
	return nil, errNoKeys
}

func (unreachableKeys) Refresh(context.Context) error { return errNoKeys }

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatal(err)
	}
}
