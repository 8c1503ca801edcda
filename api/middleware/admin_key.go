package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/airmesh-mobile/airmesh-backend/api/responses"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey gates operator endpoints behind the shared admin API key.
// Comparison is constant time so the key cannot be probed byte by byte.
func AdminKey(cfg config.AdminConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.APIKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin key not configured"))
				return
			}

			presented := r.Header.Get(adminKeyHeader)
			if presented == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin key required"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.APIKey)) != 1 {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "remote_addr", r.RemoteAddr), "admin key rejected")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin key invalid"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
