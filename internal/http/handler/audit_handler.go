package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/repository"
)

type AuditHandler struct {
	repo repository.AuditRepository
}

func NewAuditHandler(repo repository.AuditRepository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

// Query lists audit events for the caller's workspace, newest first.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	q := r.URL.Query()
	filter := repository.AuditFilter{
		WorkspaceID: claims.WorkspaceID,
		UserID:      q.Get("user_id"),
		Action:      q.Get("action"),
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	events, total, err := h.repo.Query(r.Context(), filter)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "audit store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"events": events, "total": total})
}
