package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/httpjson"
)

// ServiceKeyHeader carries the shared key of the trusted front-end.
const ServiceKeyHeader = "X-Service-Key"

// RequireServiceKey returns middleware that admits only callers presenting key.
// The front-end authenticates end users itself and acts on their behalf.
func RequireServiceKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServiceKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				httpjson.WriteError(w, domain.ErrUnauthorized("invalid service key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
