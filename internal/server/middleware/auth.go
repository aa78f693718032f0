package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lucky7slw/construction-erp-sub001/internal/credential"
)

// NewAuthMiddleware gates every connection attempt. It extracts the bearer
// credential from the handshake, hands it to the validator under a bounded
// context, and rejects admission on any failure. A validator timeout counts
// as an invalid credential; the connection is never left half-open.
func NewAuthMiddleware(logger *slog.Logger, validator credential.Validator, timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("No credential attached to handshake", slog.String("ip", reqMeta.IP))
				http.Error(w, "missing authentication token", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			ident, err := validator.Validate(ctx, tokenString)
			if err != nil {
				// the specific validator failure is not leaked to the client.
				logger.Warn("Credential validation failed",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				http.Error(w, "invalid authentication token", http.StatusUnauthorized)
				return
			}

			reqMeta.Identity = ident
			next.ServeHTTP(w, r)
		})
	}
}

// browser WebSocket clients cannot set headers on the upgrade request, so the
// credential rides a query parameter; the header form is accepted for
// non-browser callers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
