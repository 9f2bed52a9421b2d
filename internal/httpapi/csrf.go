package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"socportal.org/internal/obs"
)

// Double-submit cookie names.
const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

const csrfRejectMessage = "CSRF token missing or invalid"

// CSRFGuard implements double-submit CSRF protection for the cookie-based
// scheme. The cookie holds nonce.signature where the signature is an HMAC
// over the nonce; the page echoes the bare nonce in a request header. A
// cross-origin attacker cannot read the cookie, so it cannot produce a
// matching header even though the browser attaches the cookie.
//
// Bearer-authenticated requests skip the check: they are not cookie-driven
// and are outside this attack class. So do the configured pre-auth exempt
// paths (login, registration), where no legitimate cookie exists yet.
type CSRFGuard struct {
	secret   []byte
	ttl      time.Duration
	exempt   map[string]struct{}
	secure   bool
	sameSite http.SameSite
}

// NewCSRFGuard constructs the guard.
func NewCSRFGuard(secret string, ttl time.Duration, exemptPaths []string, secure bool, sameSite http.SameSite) (*CSRFGuard, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("httpapi: csrf secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &CSRFGuard{
		secret:   []byte(secret),
		ttl:      ttl,
		exempt:   exempt,
		secure:   secure,
		sameSite: sameSite,
	}, nil
}

// Guard is the per-request state machine, keyed on HTTP method.
func (g *CSRFGuard) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			if _, err := r.Cookie(CSRFCookieName); err != nil {
				g.issueCookie(w)
			}
			next.ServeHTTP(w, r)
			return

		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if _, ok := g.exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			cookie, err := r.Cookie(CSRFCookieName)
			presented := r.Header.Get(CSRFHeaderName)
			if err != nil || presented == "" || !g.verify(cookie.Value, presented) {
				obs.ObserveCSRFRejection()
				writeError(w, r, http.StatusForbidden, csrfRejectMessage)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) issueCookie(w http.ResponseWriter) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    g.sign(nonce),
		Path:     "/",
		MaxAge:   int(g.ttl.Seconds()),
		HttpOnly: false, // the page must read it to echo the nonce
		Secure:   g.secure,
		SameSite: g.sameSite,
	})
}

// sign returns nonce.signature with an HMAC-SHA256 signature over the nonce.
func (g *CSRFGuard) sign(nonce string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(nonce))
	return nonce + "." + hex.EncodeToString(mac.Sum(nil))
}

// verify checks that the cookie signature covers the cookie nonce and that
// the header-presented nonce equals it, both in constant time.
func (g *CSRFGuard) verify(cookieValue, presented string) bool {
	nonce, sig, ok := strings.Cut(cookieValue, ".")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(nonce))
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(nonce), []byte(presented)) == 1
}
