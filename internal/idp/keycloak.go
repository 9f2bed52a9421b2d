// Package idp is the client side of the identity-provider collaborator: the
// published key set, the password-grant token endpoint, and the small slice
// of the admin API the role-approval workflow needs.
package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Client talks to a Keycloak realm over HTTP.
type Client struct {
	baseURL    string
	realm      string
	clientID   string
	adminUser  string
	adminPass  string
	httpClient *http.Client
}

// Config carries the realm coordinates and admin credentials.
type Config struct {
	BaseURL   string
	Realm     string
	ClientID  string
	AdminUser string
	AdminPass string
}

// New constructs a client. A nil httpClient gets a 10s-timeout default.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		realm:      cfg.Realm,
		clientID:   cfg.ClientID,
		adminUser:  cfg.AdminUser,
		adminPass:  cfg.AdminPass,
		httpClient: httpClient,
	}
}

// Issuer returns the realm issuer URL, the expected iss claim of bearer
// tokens.
func (c *Client) Issuer() string {
	return c.baseURL + "/realms/" + c.realm
}

// JWKSURL returns the published signing-key-set endpoint.
func (c *Client) JWKSURL() string {
	return c.Issuer() + "/protocol/openid-connect/certs"
}

// PasswordToken exchanges user credentials (and an optional one-time code)
// for a bearer token via the password grant.
func (c *Client) PasswordToken(ctx context.Context, email, password, otp string) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.clientID},
		"username":   {email},
		"password":   {password},
	}
	if otp != "" {
		form.Set("totp", otp)
	}
	return c.tokenRequest(ctx, c.Issuer()+"/protocol/openid-connect/token", form)
}

// AssignRealmRole looks up the user holding email and grants them the named
// realm role via the admin API.
func (c *Client) AssignRealmRole(ctx context.Context, email, role string) error {
	token, err := c.adminToken(ctx)
	if err != nil {
		return fmt.Errorf("admin token: %w", err)
	}
	userID, err := c.findUserID(ctx, token, email)
	if err != nil {
		return err
	}
	realmRole, err := c.realmRole(ctx, token, role)
	if err != nil {
		return err
	}

	body, err := json.Marshal([]roleRepresentation{realmRole})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users/%s/role-mappings/realm", c.baseURL, c.realm, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("assign role: status %d", resp.StatusCode)
	}
	return nil
}

type roleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// adminToken authenticates against the master realm with the admin-cli
// client, the way Keycloak's own tooling does.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {"admin-cli"},
		"username":   {c.adminUser},
		"password":   {c.adminPass},
	}
	return c.tokenRequest(ctx, c.baseURL+"/realms/master/protocol/openid-connect/token", form)
}

func (c *Client) tokenRequest(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return payload.AccessToken, nil
}

func (c *Client) findUserID(ctx context.Context, token, email string) (string, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users?email=%s&exact=true", c.baseURL, c.realm, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup user: status %d", resp.StatusCode)
	}

	var users []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("decode user lookup: %w", err)
	}
	if len(users) == 0 {
		return "", fmt.Errorf("identity provider has no user for %s", email)
	}
	return users[0].ID, nil
}

func (c *Client) realmRole(ctx context.Context, token, role string) (roleRepresentation, error) {
	endpoint := fmt.Sprintf("%s/admin/realms/%s/roles/%s", c.baseURL, c.realm, url.PathEscape(role))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return roleRepresentation{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return roleRepresentation{}, fmt.Errorf("lookup role: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return roleRepresentation{}, fmt.Errorf("lookup role: status %d", resp.StatusCode)
	}

	var rr roleRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return roleRepresentation{}, fmt.Errorf("decode role: %w", err)
	}
	return rr, nil
}
