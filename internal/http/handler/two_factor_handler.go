package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/service"
)

type TwoFactorHandler struct {
	twoFactor *service.TwoFactorService
}

func NewTwoFactorHandler(twoFactor *service.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor}
}

func (h *TwoFactorHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	label := claims.Email
	if label == "" {
		label = claims.RegisteredClaims.Subject
	}
	setup, err := h.twoFactor.BeginEnrollment(r.Context(), claims.RegisteredClaims.Subject, label)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyEnabled) {
			response.Error(w, r, http.StatusConflict, "ALREADY_ENABLED", "two-factor authentication is already enabled", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "enrollment temporarily unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, setup)
}

type confirmRequest struct {
	Code string `json:"code"`
}

func (h *TwoFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	codes, err := h.twoFactor.ConfirmEnrollment(r.Context(), claims.RegisteredClaims.Subject, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CODE", "invalid verification code", nil)
		case errors.Is(err, service.ErrNotPendingSetup):
			response.Error(w, r, http.StatusConflict, "NOT_PENDING", "no pending enrollment", nil)
		case errors.Is(err, service.ErrAlreadyEnabled):
			response.Error(w, r, http.StatusConflict, "ALREADY_ENABLED", "two-factor authentication is already enabled", nil)
		default:
			response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "enrollment temporarily unavailable", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	if err := h.twoFactor.Disable(r.Context(), claims.RegisteredClaims.Subject); err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "temporarily unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "disabled"})
}
