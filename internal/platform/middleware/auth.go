package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const principalKey contextKey = "principal"

// Principal is the authenticated caller resolved from the bearer token.
type Principal struct {
	UserID    string
	CompanyID string
	Roles     []string
}

type tokenClaims struct {
	CompanyID string   `json:"company_id"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

// Auth resolves the caller identity. With a non-empty HMAC secret it requires
// a valid bearer token; with an empty secret it falls back to identity
// headers (X-User-ID, X-Company-ID, X-Roles), which is only acceptable behind
// a trusted gateway or in development.
func Auth(secret string, log *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p Principal

			if secret == "" {
				p = Principal{
					UserID:    r.Header.Get("X-User-ID"),
					CompanyID: r.Header.Get("X-Company-ID"),
					Roles:     splitRoles(r.Header.Get("X-Roles")),
				}
			} else {
				raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if raw == "" || raw == r.Header.Get("Authorization") {
					http.Error(w, "Missing bearer token", http.StatusUnauthorized)
					return
				}

				claims := &tokenClaims{}
				token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(secret), nil
				})
				if err != nil || !token.Valid {
					log.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected invalid bearer token")
					http.Error(w, "Invalid bearer token", http.StatusUnauthorized)
					return
				}

				p = Principal{
					UserID:    claims.Subject,
					CompanyID: claims.CompanyID,
					Roles:     claims.Roles,
				}
			}

			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFrom returns the caller identity stored by Auth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
