package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/waveline/server/internal/auth"
	"github.com/waveline/server/internal/logging"
	"github.com/waveline/server/internal/model"
	"github.com/waveline/server/internal/repo"
)

type contextKey string

const (
	claimsKey         contextKey = "claims"
	credentialUserKey contextKey = "credential_user"
)

// ParseUser deserializes the bearer access token into request context. When
// the access token is expired and the request carries an x-refresh header, a
// new access token is minted against the session and returned to the client
// in the x-access-token response header. Requests without usable tokens pass
// through anonymous; RequireUser decides whether that matters.
func ParseUser(jwtService *auth.JWTService, authService *auth.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessToken := bearerToken(r)
			if accessToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := jwtService.Verify(accessToken, auth.PurposeAccess)
			if result.Valid {
				next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), result.Claims)))
				return
			}

			refreshToken := r.Header.Get("x-refresh")
			if result.Expired && refreshToken != "" {
				newAccessToken, err := authService.ReissueAccessToken(r.Context(), refreshToken)
				if err == nil {
					w.Header().Set("x-access-token", newAccessToken)
					if reverified := jwtService.Verify(newAccessToken, auth.PurposeAccess); reverified.Valid {
						next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), reverified.Claims)))
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects requests that did not present a valid access token.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetClaims(r.Context()); !ok {
			logging.FromContext(r.Context()).Warn("unauthenticated access attempt", "path", r.URL.Path)
			respondWithError(w, http.StatusForbidden, "User not logged in or not authorized to perform this action")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose claims do not carry the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok || !claims.IsAdmin() {
			logging.FromContext(r.Context()).Warn("non-admin access attempt", "path", r.URL.Path)
			respondWithError(w, http.StatusForbidden, "User does not have admin privileges")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CheckToken resolves the {token} path parameter as a single-use credential
// token for the given purpose and attaches the owning user to the context.
// Unknown and expired tokens both yield 401, with distinct messages.
func CheckToken(authService *auth.AuthService, purpose repo.Purpose) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := chi.URLParam(r, "token")

			user, err := authService.CheckToken(r.Context(), purpose, token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					respondWithError(w, http.StatusUnauthorized, "Token expired")
				case errors.Is(err, auth.ErrInvalidToken):
					respondWithError(w, http.StatusUnauthorized, "Invalid token")
				default:
					logging.FromContext(r.Context()).Error("token check failed", "error", err)
					respondWithError(w, http.StatusInternalServerError, "internal server error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), credentialUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims returns the access-token claims attached by ParseUser.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

// GetCredentialUser returns the user resolved by CheckToken.
func GetCredentialUser(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(credentialUserKey).(model.User)
	return user, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"message": message}
	_ = json.NewEncoder(w).Encode(response)
}
