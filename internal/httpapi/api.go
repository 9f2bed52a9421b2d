// Package httpapi is the HTTP surface of the portal: authentication
// endpoints, the role-review workflow and the protected sample routes,
// wrapped in the gateway middleware chain.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"socportal.org/internal/audit"
	"socportal.org/internal/auth"
	"socportal.org/internal/config"
	"socportal.org/internal/obs"
)

// ReadyProbe reports whether downstream dependencies are reachable.
type ReadyProbe func(r *http.Request) error

// API aggregates the handler dependencies.
type API struct {
	cfg      *config.Config
	svc      *auth.Service
	resolver *auth.IdentityResolver
	codec    *auth.LocalTokenCodec
	users    auth.UserStore
	recorder *audit.Recorder
	csrf     *CSRFGuard

	cookieSecure   bool
	cookieSameSite http.SameSite

	readyProbe ReadyProbe
	version    string
}

// New wires the API. The cookie attributes for session and CSRF cookies come
// from cfg so both schemes agree on Secure/SameSite.
func New(cfg *config.Config, svc *auth.Service, resolver *auth.IdentityResolver,
	codec *auth.LocalTokenCodec, users auth.UserStore, recorder *audit.Recorder,
	readyProbe ReadyProbe, version string) (*API, error) {

	sameSite, err := config.ParseSameSite(cfg.Auth.CookieSameSite)
	if err != nil {
		return nil, err
	}
	csrf, err := NewCSRFGuard(cfg.CSRF.Secret, cfg.CSRF.TokenTTL, cfg.CSRF.ExemptPaths,
		cfg.Auth.CookieSecure, sameSite)
	if err != nil {
		return nil, err
	}
	return &API{
		cfg:            cfg,
		svc:            svc,
		resolver:       resolver,
		codec:          codec,
		users:          users,
		recorder:       recorder,
		csrf:           csrf,
		cookieSecure:   cfg.Auth.CookieSecure,
		cookieSameSite: sameSite,
		readyProbe:     readyProbe,
		version:        version,
	}, nil
}

// Router builds the full middleware chain and route table. Order matters:
// request id and logging first, then the protective layers; the audit wrapper
// sits outside the CSRF guard so rejected mutations are still recorded.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logging)
	r.Use(SecurityHeaders)
	r.Use(obs.Instrument)
	r.Use(MaxBodyBytes(a.cfg.Server.MaxBodyBytes))
	if a.cfg.RateLimit.PerSecond > 0 {
		r.Use(RateLimit(a.cfg.RateLimit.PerSecond, a.cfg.RateLimit.Burst))
	}
	r.Use(a.Audit)
	r.Use(a.csrf.Guard)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(a.WithIdentity)
			r.Get("/me", a.handleMe)
			r.Post("/mfa/setup", a.handleMFASetup)
			r.Post("/mfa/verify", a.handleMFAVerify)
		})
	})

	r.Route("/roles", func(r chi.Router) {
		r.Use(a.WithIdentity)
		r.Post("/request", a.handleRequestRole)

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(auth.RoleAdmin))
			r.Get("/requests", a.handleListRoleRequests)
			r.Get("/requests/count", a.handleCountRoleRequests)
			r.Post("/requests/{id}/approve", a.handleApproveRoleRequest)
			r.Post("/requests/{id}/reject", a.handleRejectRoleRequest)
		})
	})

	r.Route("/secure", func(r chi.Router) {
		r.Use(a.WithIdentity)
		r.Get("/profile", a.handleSecureProfile)
		r.With(RequireRoles(auth.RoleAnalyst, auth.RoleManager)).
			Get("/analyst-only", a.handleSecureAnalyst)
		r.With(RequireRoles(auth.RoleClient)).
			Get("/client-only", a.handleSecureClient)
		r.With(RequireRoles(auth.RoleManager)).
			Get("/audit", a.handleSecureAudit)
	})

	return r
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe(r); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
