package httpapi

import (
	"context"
	"net/http"
	"strings"

	"socportal.org/internal/audit"
	"socportal.org/internal/auth"
)

// mutatingMethods are the methods that produce an audit record.
var mutatingMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// Audit persists one record per state-changing request, after the response
// is produced. The write happens off the request goroutine: the caller never
// waits on it, and recorder failures are swallowed internally. The actor is
// recovered best-effort from the session cookie only; an expired or missing
// token yields a null actor, never a blocked request.
func (a *API) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.auditActor(r)

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		if _, ok := mutatingMethods[r.Method]; !ok {
			return
		}
		entry := &audit.Entry{
			UserID:     userID,
			Path:       r.URL.Path,
			Method:     r.Method,
			StatusCode: sw.code,
			IP:         clientIP(r),
			UserAgent:  r.UserAgent(),
		}
		go a.recorder.Record(context.Background(), entry)
	})
}

func (a *API) auditActor(r *http.Request) *int64 {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	subject, err := a.codec.Verify(cookie.Value)
	if err != nil {
		return nil
	}
	user, err := a.users.FindByEmail(r.Context(), strings.ToLower(subject))
	if err != nil {
		return nil
	}
	id := user.ID
	return &id
}
