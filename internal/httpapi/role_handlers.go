package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"socportal.org/internal/auth"
	"socportal.org/internal/obs"
)

type roleRequestCreate struct {
	Role string `json:"role" validate:"required,oneof=analyst manager"`
}

type roleDecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (a *API) handleRequestRole(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req roleRequestCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rr, err := a.svc.RequestRole(r.Context(), user.ID, req.Role)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	logger := obs.Log()
	logger.Info().
		Int64("user_id", user.ID).
		Str("role", req.Role).
		Msg("role change requested")
	writeJSON(w, http.StatusCreated, rr)
}

func (a *API) handleListRoleRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = auth.RequestPending
	}
	items, err := a.svc.ListRoleRequests(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []*auth.RoleRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCountRoleRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = auth.RequestPending
	}
	count, err := a.svc.CountRoleRequests(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "count": count})
}

func (a *API) handleApproveRoleRequest(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	id, err := requestID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request id")
		return
	}

	rr, err := a.svc.ApproveRoleRequest(r.Context(), id, reviewer.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	logger := obs.Log()
	logger.Info().
		Int64("request_id", rr.ID).
		Int64("reviewer_id", reviewer.ID).
		Str("role", rr.RequestedRole).
		Msg("role request approved")
	writeJSON(w, http.StatusOK, rr)
}

func (a *API) handleRejectRoleRequest(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	id, err := requestID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request id")
		return
	}

	// The rejection comment is optional; an empty body is fine.
	var req roleDecisionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	rr, err := a.svc.RejectRoleRequest(r.Context(), id, req.Comment, reviewer.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	logger := obs.Log()
	logger.Info().
		Int64("request_id", rr.ID).
		Int64("reviewer_id", reviewer.ID).
		Msg("role request rejected")
	writeJSON(w, http.StatusOK, rr)
}

func requestID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
