package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/security"
	"github.com/stitchworks/erp-auth/internal/service"
)

const refreshCookieName = "refresh_token"

type AuthHandler struct {
	auth         *service.AuthService
	refreshTTL   int
	secureCookie bool
}

func NewAuthHandler(auth *service.AuthService, refreshTTLSeconds int, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: auth, refreshTTL: refreshTTLSeconds, secureCookie: secureCookie}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "email and password are required", nil)
		return
	}
	pair, err := h.auth.Login(r.Context(), req.Email, req.Password, req.TOTPCode, clientMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrTwoFactorRequired) {
			response.Error(w, r, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", "two-factor code required", nil)
			return
		}
		if errors.Is(err, service.ErrUnauthenticated) {
			response.Unauthorized(w, r)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "authentication temporarily unavailable", nil)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)
	response.JSON(w, r, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := security.GetCookie(r, refreshCookieName)
	if token == "" {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.RefreshToken
		}
	}
	if token == "" {
		response.Unauthorized(w, r)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			h.clearRefreshCookie(w)
			response.Unauthorized(w, r)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "authentication temporarily unavailable", nil)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	token := security.GetCookie(r, refreshCookieName)
	if err := h.auth.Logout(r.Context(), claims.RegisteredClaims.Subject, token, clientMeta(r)); err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "logout temporarily unavailable", nil)
		return
	}
	h.clearRefreshCookie(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api/v1/auth",
		MaxAge:   h.refreshTTL,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func clientMeta(r *http.Request) service.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		ip = host
	}
	return service.ClientMeta{IP: ip, UserAgent: r.UserAgent()}
}
