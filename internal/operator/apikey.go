// Package operator implements authentication for the core's management
// REST surface. SecretHub has no multi-tenant user model at this layer
// (that belongs to the Web UI collaborator per §1) — the core recognizes
// exactly one credential, a single operator API key configured at
// startup, in the same hash-and-compare shape the teacher's
// internal/auth/apikey.go uses for its per-tenant keys.
package operator

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gsmlg-dev/secrethub/internal/httpserver"
)

// HashKey reduces a raw API key to its comparable digest, exactly as the
// teacher's auth.HashAPIKey does for tenant-scoped keys.
func HashKey(raw string) [sha256.Size]byte {
	return sha256.Sum256([]byte(raw))
}

// Authenticator checks the X-API-Key header against a single configured
// operator key. An empty configured key disables authentication, for
// local development only.
type Authenticator struct {
	keyHash [sha256.Size]byte
	enabled bool
}

// NewAuthenticator builds an Authenticator from the operator key
// configured at startup.
func NewAuthenticator(rawKey string) *Authenticator {
	if rawKey == "" {
		return &Authenticator{}
	}
	return &Authenticator{keyHash: HashKey(rawKey), enabled: true}
}

// Middleware enforces X-API-Key authentication on every request it
// wraps. It is a no-op when the Authenticator was built with no
// configured key.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get("X-API-Key")
		if raw == "" || !a.valid(raw) {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid operator API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) valid(raw string) bool {
	got := HashKey(raw)
	return subtle.ConstantTimeCompare(got[:], a.keyHash[:]) == 1
}
