package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/stitchworks/erp-auth/internal/http/response"
	"github.com/stitchworks/erp-auth/internal/observability"
	"github.com/stitchworks/erp-auth/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// accessToken extracts the raw access token from the request, preferring the
// cookie the browser client uses over the Authorization header.
func accessToken(r *http.Request) (raw, source string) {
	if c := security.GetCookie(r, "access_token"); c != "" {
		return c, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

// AuthMiddleware admits only requests carrying a valid access token scoped
// to a workspace. All rejections share one response body; the metric label
// records the actual cause.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", source)
				response.Unauthorized(w, r)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Unauthorized(w, r)
				return
			}
			if claims.WorkspaceID == "" {
				observability.RecordAccessTokenValidation(r.Context(), "unscoped", source)
				response.Unauthorized(w, r)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
