package httpapi

import (
	"net/http"
	"strconv"

	"socportal.org/internal/auth"
)

// The /secure routes exercise each tier of the role gate.

func (a *API) handleSecureProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "access granted",
		"user":    user,
	})
}

func (a *API) handleSecureAnalyst(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "analyst workspace",
		"user":    user.Username,
	})
}

func (a *API) handleSecureClient(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "client portal",
		"user":    user.Username,
	})
}

func (a *API) handleSecureAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.recorder.ListRecent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
