package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"socportal.org/internal/auth"
)

type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func newAPIClient(t *testing.T, env *testEnv) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &apiClient{t: t, base: env.srv.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		c.t.Fatal(err)
	}
	return resp
}

func (c *apiClient) postJSON(path string, body any, withCSRF bool) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withCSRF {
		req.Header.Set(CSRFHeaderName, c.csrfNonce())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	return resp
}

// csrfNonce mints the CSRF cookie via a safe request if absent and returns
// the bare nonce a browser page would echo.
func (c *apiClient) csrfNonce() string {
	c.t.Helper()
	u, _ := url.Parse(c.base)
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == CSRFCookieName {
			nonce, _, _ := strings.Cut(cookie.Value, ".")
			return nonce
		}
	}
	c.get("/healthz").Body.Close()
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == CSRFCookieName {
			nonce, _, _ := strings.Cut(cookie.Value, ".")
			return nonce
		}
	}
	c.t.Fatal("csrf cookie was not minted")
	return ""
}

func (c *apiClient) register(username, email, password string) {
	c.t.Helper()
	resp := c.postJSON("/auth/register", map[string]string{
		"username": username, "email": email, "password": password,
	}, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("register: status %d", resp.StatusCode)
	}
}

func TestRegisterOpensSession(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)

	resp := client.postJSON("/auth/register", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "s3cretpass",
	}, false)
	var session sessionResponse
	decodeBody(t, resp, &session)
	if session.AccessToken == "" || session.TokenType != "bearer" {
		t.Fatalf("unexpected session %+v", session)
	}

	me := client.get("/auth/me")
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", me.StatusCode)
	}
	var user auth.User
	decodeBody(t, me, &user)
	if user.Email != "alice@example.com" || user.Role != auth.RoleClient {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)

	resp := client.postJSON("/auth/register", map[string]string{
		"username": "alice", "email": "not-an-email", "password": "s3cretpass",
	}, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLoginWrongPasswordIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)
	client.register("alice", "alice@example.com", "s3cretpass")

	resp := client.postJSON("/auth/login", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	}, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("WWW-Authenticate missing on 401")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)
	client.register("alice", "alice@example.com", "s3cretpass")

	resp := client.postJSON("/auth/logout", nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}

	me := client.get("/auth/me")
	me.Body.Close()
	if me.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d, want 401", me.StatusCode)
	}
}

func TestMutationRequiresCSRF(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)
	client.register("alice", "alice@example.com", "s3cretpass")

	resp := client.postJSON("/roles/request", map[string]string{"role": "analyst"}, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 without csrf header", resp.StatusCode)
	}

	ok := client.postJSON("/roles/request", map[string]string{"role": "analyst"}, true)
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 with csrf header", ok.StatusCode)
	}
}

func TestRoleReviewRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)
	client.register("alice", "alice@example.com", "s3cretpass")

	resp := client.get("/roles/requests")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("client role: status %d, want 403", resp.StatusCode)
	}

	// Promote and retry: the role is re-read from the store on every request.
	user, err := env.store.Users().FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Users().UpdateRole(context.Background(), user.ID, auth.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	resp = client.get("/roles/requests")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin role: status %d, want 200", resp.StatusCode)
	}
}

func TestRoleRequestApprovalFlow(t *testing.T) {
	env := newTestEnv(t)

	requester := newAPIClient(t, env)
	requester.register("bob", "bob@example.com", "s3cretpass")
	resp := requester.postJSON("/roles/request", map[string]string{"role": "manager"}, true)
	var rr auth.RoleRequest
	decodeBody(t, resp, &rr)
	if rr.Status != auth.RequestPending {
		t.Fatalf("status = %q", rr.Status)
	}

	reviewer := newAPIClient(t, env)
	reviewer.register("root", "root@example.com", "s3cretpass")
	admin, err := env.store.Users().FindByEmail(context.Background(), "root@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.store.Users().UpdateRole(context.Background(), admin.ID, auth.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	count := reviewer.get("/roles/requests/count")
	var counted struct {
		Count int `json:"count"`
	}
	decodeBody(t, count, &counted)
	if counted.Count != 1 {
		t.Fatalf("pending count = %d", counted.Count)
	}

	approve := reviewer.postJSON("/roles/requests/1/approve", nil, true)
	var decided auth.RoleRequest
	decodeBody(t, approve, &decided)
	if decided.Status != auth.RequestApproved {
		t.Fatalf("status = %q, want approved", decided.Status)
	}
	if decided.DecidedBy == nil || *decided.DecidedBy != admin.ID {
		t.Fatalf("decided_by = %v", decided.DecidedBy)
	}

	// Second decision on the same request is a 404.
	again := reviewer.postJSON("/roles/requests/1/approve", nil, true)
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("redecide: status %d, want 404", again.StatusCode)
	}
}

func TestSecureTierGates(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)
	client.register("alice", "alice@example.com", "s3cretpass")

	cases := []struct {
		path string
		want int
	}{
		{"/secure/profile", http.StatusOK},
		{"/secure/client-only", http.StatusOK},
		{"/secure/analyst-only", http.StatusForbidden},
		{"/secure/audit", http.StatusForbidden},
	}
	for _, tc := range cases {
		resp := client.get(tc.path)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestSecureRoutesRejectAnonymous(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)

	resp := client.get("/secure/profile")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	client := newAPIClient(t, env)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := client.get(path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}
