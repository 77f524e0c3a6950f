package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/security"
	"github.com/stitchworks/erp-auth/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	userID := claims.RegisteredClaims.Subject
	current := h.sessions.ResolveCurrentSessionID(r.Context(), security.GetCookie(r, refreshCookieName), userID)
	views, err := h.sessions.ListActive(r.Context(), userID, current)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "session store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "session id is required", nil)
		return
	}
	meta := clientMeta(r)
	status, err := h.sessions.Revoke(r.Context(), claims.RegisteredClaims.Subject, sessionID, meta.UserAgent, meta.IP)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "session store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": status})
}

func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	meta := clientMeta(r)
	count, err := h.sessions.RevokeAll(r.Context(), claims.RegisteredClaims.Subject, meta.UserAgent, meta.IP)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "session store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked_count": count})
}
