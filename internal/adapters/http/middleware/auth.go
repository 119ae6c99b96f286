package middleware

import (
	"context"
	"net/http"
	"strings"

	"pandaconnect/internal/domain/access"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const principalContextKey contextKey = "principal"

// Identity returns middleware that reads the caller identity from headers set by the
// authenticating proxy. It does NOT block anonymous requests; use RequireWriter for that.
func Identity(userHeader, emailHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := access.Principal{
				UserID: strings.TrimSpace(r.Header.Get(userHeader)),
				Email:  strings.TrimSpace(r.Header.Get(emailHeader)),
			}
			if !p.IsZero() {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the caller, or the zero Principal for anonymous requests.
func PrincipalFromContext(ctx context.Context) access.Principal {
	p, _ := ctx.Value(principalContextKey).(access.Principal)
	return p
}

// RequireWriter blocks requests from callers the authorizer does not allow to write.
// Anonymous callers get 401, known but unlisted callers get 403.
func RequireWriter(auth access.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch err := access.Check(r.Context(), auth, PrincipalFromContext(r.Context())); err {
			case nil:
				next.ServeHTTP(w, r)
			case access.ErrUnauthenticated:
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			default:
				http.Error(w, "Forbidden", http.StatusForbidden)
			}
		})
	}
}
