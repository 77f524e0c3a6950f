package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stitchworks/erp-auth/internal/http/handler"
	"github.com/stitchworks/erp-auth/internal/http/middleware"
	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/security"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	SessionHandler   *handler.SessionHandler
	TwoFactorHandler *handler.TwoFactorHandler
	AuditHandler     *handler.AuditHandler
	JWTManager       *security.JWTManager

	LoginLimiter   func(http.Handler) http.Handler
	RefreshLimiter func(http.Handler) http.Handler
	TwoFALimiter   func(http.Handler) http.Handler
	APILimiter     func(http.Handler) http.Handler

	StoreTimeout   time.Duration
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.StoreTimeout > 0 {
		// A slow store is an availability failure, not an authentication
		// failure; the timeout bounds how long a worker can be held.
		r.Use(chimiddleware.Timeout(dep.StoreTimeout))
	}
	if dep.APILimiter != nil {
		r.Use(dep.APILimiter)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	auth := middleware.AuthMiddleware(dep.JWTManager)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(dep.LoginLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(dep.RefreshLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(auth).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(auth)
			r.Get("/sessions", dep.SessionHandler.List)
			r.Delete("/sessions/{session_id}", dep.SessionHandler.Revoke)
			r.Post("/sessions/revoke-all", dep.SessionHandler.RevokeAll)
			r.With(dep.TwoFALimiter).Post("/2fa/enroll", dep.TwoFactorHandler.Enroll)
			r.With(dep.TwoFALimiter).Post("/2fa/confirm", dep.TwoFactorHandler.Confirm)
			r.Post("/2fa/disable", dep.TwoFactorHandler.Disable)
		})

		r.With(auth).Get("/admin/audit", dep.AuditHandler.Query)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
