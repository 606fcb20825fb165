package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal_id"

// PrincipalHeader carries the caller's id when no token verification is
// configured. Only suitable behind a trusted gateway.
const PrincipalHeader = "X-Principal-ID"

// WithPrincipal returns a context that carries the authenticated principal.
func WithPrincipal(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, principalKey, id)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(principalKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// NewJWTAuth returns an HS256 verifier for secret.
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// JWTPrincipal verifies the bearer token and takes the principal from its
// "sub" claim.
func JWTPrincipal(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(ja)
	return func(next http.Handler) http.Handler {
		return verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				unauthorized(w, r)
				return
			}
			sub, _ := claims["sub"].(string)
			id, err := uuid.Parse(sub)
			if err != nil || id == uuid.Nil {
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
		}))
	}
}

// HeaderPrincipal trusts PrincipalHeader.
func HeaderPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(PrincipalHeader))
		if err != nil || id == uuid.Nil {
			unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: "unauthorized", Message: "Authentication required"}})
}
