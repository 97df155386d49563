package adminapi

import (
	"net/http"
	"strings"

	"github.com/clearlinux/telempostd/internal/auth"
	"github.com/clearlinux/telempostd/internal/tokens"
)

// TokenValidator is the subset of *tokens.Manager the bearer middleware
// needs, so tests can substitute a fake without minting real JWTs.
type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// RequireOperator gates next behind a valid, non-revoked bearer token
// carrying the operator role, adapted from the teacher's
// internal/middleware.JWTAuth.Middleware down to the daemon's single-role
// admin model (no tenant/user claims to check). blacklist may be nil, in
// which case revocation checks are skipped (SPEC_FULL.md §4 "fail-open for
// a feature that is itself optional hardening").
func RequireOperator(validator TokenValidator, blacklist auth.TokenBlacklist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if blacklist != nil {
				revoked, err := blacklist.IsBlacklisted(r.Context(), claims.ID)
				if err != nil {
					// Fail closed: an unreachable blacklist must not grant
					// access to a token that may have been revoked.
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				if revoked {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
